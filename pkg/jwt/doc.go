// Package jwt issues and verifies HS256 session tokens.
//
// Service.Generate signs a token for a user id and email; Service.Parse
// verifies the signature, expiry and, when configured, the issuer. Claims.UserID
// returns the subject as a uuid.UUID.
//
// Middleware extracts a bearer token, parses it and stores the Claims in the
// request context, where GetClaims reads them back. MiddlewareWithConfig lets
// callers replace the token extractor and the error handler.
//
// Tokens are built on github.com/golang-jwt/jwt/v5.
package jwt
