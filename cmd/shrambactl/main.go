package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"flag"
	"fmt"
	"math/big"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/shramba/internal/bus"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

const usage = "Usage: shrambactl <init|migrate|cleanup|check> [-db path] [-user name]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(os.Args[2:])
	case "migrate":
		err = cmdMigrate(os.Args[2:])
	case "cleanup":
		err = cmdCleanup(os.Args[2:])
	case "check":
		err = cmdCheck(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n%s\n", os.Args[1], usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type target struct {
	db    *sql.DB
	items *store.ItemStore
	users []model.User
}

// open parses the common flags and opens the database. With -user only
// that account is selected, otherwise every account.
func open(name string, args []string) (*target, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	dbPath := fs.String("db", "shramba.sqlite3", "path to SQLite database file")
	username := fs.String("user", "", "limit to one account")
	fs.Parse(args)

	if _, err := os.Stat(*dbPath); err != nil {
		return nil, fmt.Errorf("database %s: %w", *dbPath, err)
	}
	database, err := db.Open(*dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(database); err != nil {
		database.Close()
		return nil, err
	}

	ctx := context.Background()
	var users []model.User
	if *username != "" {
		name, err := model.NormalizeUsername(*username)
		if err != nil {
			database.Close()
			return nil, err
		}
		u, err := store.GetUserByUsername(ctx, database, name)
		if err != nil {
			database.Close()
			return nil, err
		}
		if u == nil {
			database.Close()
			return nil, fmt.Errorf("user %q not found", *username)
		}
		users = []model.User{*u}
	} else {
		users, err = store.ListUsers(ctx, database)
		if err != nil {
			database.Close()
			return nil, err
		}
	}

	backend := store.NewSQLiteBackend(database)
	return &target{
		db:    database,
		items: store.NewItemStore(backend, bus.New(backend)),
		users: users,
	}, nil
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dbPath := fs.String("db", "shramba.sqlite3", "path to SQLite database file")
	username := fs.String("user", "", "create this account with a generated password")
	fs.Parse(args)

	database, err := db.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.EnsureSchema(database); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	fmt.Printf("Database ready: %s\n", *dbPath)
	if *username == "" {
		return nil
	}
	name, err := model.NormalizeUsername(*username)
	if err != nil {
		return err
	}

	password, err := generatePassword(16)
	if err != nil {
		return fmt.Errorf("generating password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	ctx := context.Background()
	user, err := store.CreateUser(ctx, database, name, string(hash))
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	backend := store.NewSQLiteBackend(database)
	items := store.NewItemStore(backend, bus.New(backend))
	if err := items.Initialize(ctx, store.Namespace(user.ID)); err != nil {
		return fmt.Errorf("initializing buckets: %w", err)
	}

	fmt.Println()
	fmt.Println("Account created:")
	fmt.Printf("  Username: %s\n", user.Username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	return nil
}

func cmdMigrate(args []string) error {
	t, err := open("migrate", args)
	if err != nil {
		return err
	}
	defer t.db.Close()

	ctx := context.Background()
	for _, u := range t.users {
		ns := store.Namespace(u.ID)
		migrated, err := t.items.Migrate(ctx, ns)
		if err != nil {
			return fmt.Errorf("migrating %s: %w", u.Username, err)
		}
		if err := t.items.Initialize(ctx, ns); err != nil {
			return fmt.Errorf("initializing %s: %w", u.Username, err)
		}
		fmt.Printf("%s: migrated %d bucket(s) %v\n", u.Username, len(migrated), migrated)
	}
	return nil
}

func cmdCleanup(args []string) error {
	t, err := open("cleanup", args)
	if err != nil {
		return err
	}
	defer t.db.Close()

	ctx := context.Background()
	for _, u := range t.users {
		removed, err := t.items.ClearDemoData(ctx, store.Namespace(u.ID))
		if err != nil {
			return fmt.Errorf("cleaning %s: %w", u.Username, err)
		}
		fmt.Printf("%s: removed %d demo item(s)\n", u.Username, removed)
	}
	return nil
}

func cmdCheck(args []string) error {
	t, err := open("check", args)
	if err != nil {
		return err
	}
	defer t.db.Close()

	ctx := context.Background()
	last, err := store.GetSetting(ctx, t.db, store.SettingLastSweep)
	if err != nil {
		return err
	}
	if last == "" {
		last = "never"
	}
	fmt.Printf("Last sweep: %s\n\n", last)
	fmt.Printf("%-20s %8s %8s %8s %8s\n", "USER", "PANTRY", "SHOPPING", "LEGACY", "TOTAL")
	for _, u := range t.users {
		st, err := t.items.Stats(ctx, store.Namespace(u.ID))
		if err != nil {
			return fmt.Errorf("reading %s: %w", u.Username, err)
		}
		fmt.Printf("%-20s %8d %8d %8d %8d\n", u.Username, st.PantryCount, st.ShoppingCount, st.LegacyPantryCount, st.Total)
	}
	return nil
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
