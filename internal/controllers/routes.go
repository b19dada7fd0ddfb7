package controllers

import "github.com/gorilla/mux"

// RegisterRoutes mounts the verification endpoints under /auth/v1 and the
// health probe at /health.
func RegisterRoutes(router *mux.Router, signup *SignupController, findAccount *FindAccountController, health *HealthController) {
	router.HandleFunc("/health", health.HealthCheckHandler).Methods("GET")

	v1Router := router.PathPrefix("/auth").Subrouter().PathPrefix("/v1").Subrouter()

	// Signup
	v1Router.HandleFunc("/signup/sms/request", signup.RequestCode).Methods("POST")
	v1Router.HandleFunc("/signup/sms/verify", signup.VerifyCode).Methods("POST")
	v1Router.HandleFunc("/signup", signup.CreateAccount).Methods("POST")

	// Account recovery
	v1Router.HandleFunc("/find-email/sms/request", findAccount.RequestFindEmailCode).Methods("POST")
	v1Router.HandleFunc("/find-email/sms/verify", findAccount.VerifyFindEmailCode).Methods("POST")
	v1Router.HandleFunc("/find-password/sms/request", findAccount.RequestFindPasswordCode).Methods("POST")
	v1Router.HandleFunc("/find-password/sms/verify", findAccount.VerifyFindPasswordCode).Methods("POST")
}
