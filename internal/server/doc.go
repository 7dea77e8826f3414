// Package server is the HTTP surface of chatpro.
//
// It serves the REST API for accounts, users and messages, the /ws endpoint
// that hands upgraded sockets to the delivery hub, uploaded files, and a
// health check. Configuration is loaded with viper; every request passes
// through CORS and the request logger.
package server
