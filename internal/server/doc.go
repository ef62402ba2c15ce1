// Package server is the HTTP monitoring and control API.
package server
