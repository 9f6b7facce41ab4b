package transfer

import "github.com/golang-jwt/jwt/v5"

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type GoogleUserInfo struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	VerifiedEmail  bool   `json:"verified_email"`
	Name           string `json:"name"`
	ProfilePicture string `json:"picture"`
}
