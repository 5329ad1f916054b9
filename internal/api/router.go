package api

import (
	"net/http"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(svc *Services) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: svc.DB, JWTSecret: svc.JWTSecret, Items: svc.Items}
	pantryHandler := &PantryHandler{Svc: svc}
	shoppingHandler := &ShoppingHandler{Svc: svc}
	alertsHandler := &AlertsHandler{Svc: svc}
	chatHandler := &ChatHandler{Svc: svc}
	accountHandler := &AccountHandler{Svc: svc}
	eventsHandler := &EventsHandler{Svc: svc}

	authMW := AuthMiddleware(svc.JWTSecret, svc.DB)
	protected := func(fn http.HandlerFunc) http.Handler {
		return authMW(originMiddleware(fn))
	}

	// Public: register and login.
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Event stream authenticates on its own.
	mux.HandleFunc("GET /api/events", eventsHandler.Serve)

	// Account.
	mux.Handle("POST /api/auth/logout", protected(authHandler.Logout))
	mux.Handle("GET /api/auth/me", protected(authHandler.Me))
	mux.Handle("PUT /api/auth/password", protected(authHandler.ChangePassword))
	mux.Handle("POST /api/account/reset", protected(accountHandler.Reset))
	mux.Handle("GET /api/account/stats", protected(accountHandler.Stats))
	mux.Handle("PUT /api/account/email", protected(accountHandler.SetEmail))

	// Pantry.
	mux.Handle("GET /api/pantry", protected(pantryHandler.List))
	mux.Handle("POST /api/pantry", protected(pantryHandler.Create))
	mux.Handle("GET /api/pantry/{id}", protected(pantryHandler.Get))
	mux.Handle("PUT /api/pantry/{id}", protected(pantryHandler.Update))
	mux.Handle("DELETE /api/pantry/{id}", protected(pantryHandler.Delete))
	mux.Handle("PUT /api/pantry/{id}/photo", protected(pantryHandler.UploadPhoto))
	mux.Handle("GET /api/pantry/{id}/photo", protected(pantryHandler.GetPhoto))

	// Shopping list.
	mux.Handle("GET /api/shopping", protected(shoppingHandler.List))
	mux.Handle("POST /api/shopping", protected(shoppingHandler.Add))
	mux.Handle("PUT /api/shopping/{id}/toggle", protected(shoppingHandler.Toggle))
	mux.Handle("DELETE /api/shopping/completed", protected(shoppingHandler.ClearCompleted))
	mux.Handle("DELETE /api/shopping/{id}", protected(shoppingHandler.Delete))

	// Alerts and dashboard.
	mux.Handle("GET /api/alerts/expiring", protected(alertsHandler.Expiring))
	mux.Handle("POST /api/alerts/check", protected(alertsHandler.Check))
	mux.Handle("GET /api/dashboard", protected(alertsHandler.Dashboard))
	mux.Handle("PUT /api/notifications/permission", protected(alertsHandler.SetPermission))

	// Recipe assistant.
	mux.Handle("GET /api/chat", protected(chatHandler.History))
	mux.Handle("POST /api/chat", protected(chatHandler.Send))
	mux.Handle("DELETE /api/chat", protected(chatHandler.Clear))

	return mux
}
