// Package httputil provides HTTP utilities for JSON request and response
// handling and the common middleware of the tally server.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteError(w, http.StatusBadGateway, err)
//	httputil.WriteBadRequest(w, "invalid export format")
//
// # Requests
//
//	var req eventRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
//	router.Use(httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1 << 20),
//	))
package httputil
