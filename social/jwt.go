package social

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// identity jwt claims
const (
	JwtClaimSubject  = "sub"
	JwtClaimName     = "name"
	JwtClaimEmail    = "email"
	JwtClaimPhotoUrl = "photo_url"
	JwtClaimExpires  = "exp"
	JwtClaimId       = "jti"
)

// reads the identity from a jwt issued by the backend.
// The client does not hold the signing key. The backend verifies every call.
func ParseIdentityJwtUnverified(jwt string) (*Identity, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, WrapError(ErrorKindAuth, err, "Bad identity token")
	}
	return identityFromClaims(token.Claims.(gojwt.MapClaims))
}

// reads and verifies an HS256 identity jwt
func ParseIdentityJwt(jwt string, secret []byte) (*Identity, error) {
	identity, _, err := ParseIdentityJwtWithId(jwt, secret)
	return identity, err
}

// reads and verifies an HS256 identity jwt. Also returns the token id (`jti`).
// The token must carry an expiration.
func ParseIdentityJwtWithId(jwt string, secret []byte) (*Identity, string, error) {
	token, err := gojwt.Parse(
		jwt,
		func(token *gojwt.Token) (any, error) {
			return secret, nil
		},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, "", WrapError(ErrorKindAuth, err, "Invalid identity token")
	}
	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, "", NewAuthError("Invalid identity token")
	}
	identity, err := identityFromClaims(claims)
	if err != nil {
		return nil, "", err
	}
	tokenId, _ := claims[JwtClaimId].(string)
	return identity, tokenId, nil
}

func identityFromClaims(claims gojwt.MapClaims) (*Identity, error) {
	identity := &Identity{}
	if sub, ok := claims[JwtClaimSubject].(string); ok {
		identity.Id = Id(sub)
	}
	if identity.Id == "" {
		return nil, NewAuthError("Identity token has no subject")
	}
	if name, ok := claims[JwtClaimName].(string); ok {
		identity.Name = name
	}
	if email, ok := claims[JwtClaimEmail].(string); ok {
		identity.Email = email
	}
	if photoUrl, ok := claims[JwtClaimPhotoUrl].(string); ok {
		identity.PhotoUrl = photoUrl
	}
	return identity, nil
}

// signs an HS256 identity jwt
func SignIdentityJwt(identity *Identity, tokenId string, expires time.Time, secret []byte) (string, error) {
	claims := gojwt.MapClaims{
		JwtClaimSubject: string(identity.Id),
		JwtClaimName:    identity.Name,
		JwtClaimEmail:   identity.Email,
		JwtClaimId:      tokenId,
		JwtClaimExpires: expires.Unix(),
	}
	if identity.PhotoUrl != "" {
		claims[JwtClaimPhotoUrl] = identity.PhotoUrl
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
