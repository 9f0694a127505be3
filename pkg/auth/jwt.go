package auth

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harborlink/netcore/pkg/errors"
)

// JWTAlgorithm names the supported signing algorithms (§4 "JWT
// generation"): symmetric HMAC or asymmetric RS/ES.
type JWTAlgorithm string

const (
	JWTAlgHS256 JWTAlgorithm = "HS256"
	JWTAlgHS384 JWTAlgorithm = "HS384"
	JWTAlgHS512 JWTAlgorithm = "HS512"
	JWTAlgRS256 JWTAlgorithm = "RS256"
	JWTAlgES256 JWTAlgorithm = "ES256"
)

// JWTClaims mirrors §4's claim set: standard registered claims plus
// caller-supplied custom ones.
type JWTClaims struct {
	Issuer         string
	Subject        string
	Audience       string
	IssuedAt       time.Time
	NotBefore      time.Time
	ExpiresAt      time.Time
	JWTID          string
	CustomClaims   map[string]interface{}
}

func (c JWTClaims) toMapClaims() jwt.MapClaims {
	mc := jwt.MapClaims{
		"iss": c.Issuer,
		"aud": c.Audience,
		"iat": c.IssuedAt.Unix(),
		"nbf": c.NotBefore.Unix(),
		"exp": c.ExpiresAt.Unix(),
		"jti": c.JWTID,
	}
	if c.Subject != "" {
		mc["sub"] = c.Subject
	}
	for k, v := range c.CustomClaims {
		mc[k] = v
	}
	return mc
}

// SignJWT builds and signs a JWT per §4: header {alg, typ:"JWT"}, the
// given claims, base64url-without-padding segments joined by ".". key is
// a []byte for HMAC algorithms, *rsa.PrivateKey for RS256, or
// *ecdsa.PrivateKey for ES256.
func SignJWT(alg JWTAlgorithm, claims JWTClaims, key interface{}) (string, error) {
	method := jwtSigningMethod(alg)
	if method == nil {
		return "", errors.New(errors.KindJwtSigningFailed, "sign_jwt", "unsupported JWT algorithm: "+string(alg), nil)
	}
	token := jwt.NewWithClaims(method, claims.toMapClaims())
	signed, err := token.SignedString(key)
	if err != nil {
		return "", errors.New(errors.KindJwtSigningFailed, "sign_jwt", "signing JWT", err)
	}
	return signed, nil
}

func jwtSigningMethod(alg JWTAlgorithm) jwt.SigningMethod {
	switch alg {
	case JWTAlgHS256:
		return jwt.SigningMethodHS256
	case JWTAlgHS384:
		return jwt.SigningMethodHS384
	case JWTAlgHS512:
		return jwt.SigningMethodHS512
	case JWTAlgRS256:
		return jwt.SigningMethodRS256
	case JWTAlgES256:
		return jwt.SigningMethodES256
	default:
		return nil
	}
}

// VerifyJWT parses and validates tokenString's signature and standard
// time-based claims against key (same key-type rules as SignJWT).
func VerifyJWT(tokenString string, key interface{}) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if b, ok := key.([]byte); ok {
				return b, nil
			}
		case *jwt.SigningMethodRSA:
			if k, ok := key.(*rsa.PublicKey); ok {
				return k, nil
			}
		case *jwt.SigningMethodECDSA:
			if k, ok := key.(*ecdsa.PublicKey); ok {
				return k, nil
			}
		}
		return nil, errors.New(errors.KindJwtSigningFailed, "verify_jwt", "key type does not match signing method", nil)
	})
	if err != nil {
		return nil, errors.New(errors.KindJwtSigningFailed, "verify_jwt", "JWT verification failed", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New(errors.KindJwtSigningFailed, "verify_jwt", "JWT claims invalid", nil)
	}
	return claims, nil
}
