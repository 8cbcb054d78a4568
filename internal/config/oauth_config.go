package config

import "time"

type OAuthConfig interface {
	GetAuthCodeTimeout() time.Duration
	GetDefaultAccessTokenExpiry() time.Duration
	GetDefaultIDTokenExpiry() time.Duration
	GetDefaultRefreshTokenExpiry() time.Duration
	GetClockSkewLeeway() time.Duration
	GetKeyRotationGrace() time.Duration
	GetRefreshRotation() bool
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetAuthCodeTimeout() time.Duration {
	return GetDurationEnv("AUTH_CODE_TTL", 1*time.Minute)
}

func (OAuth) GetDefaultAccessTokenExpiry() time.Duration {
	return GetDurationEnv("ACCESS_TOKEN_TTL", 15*time.Minute)
}

func (OAuth) GetDefaultIDTokenExpiry() time.Duration {
	return GetDurationEnv("ID_TOKEN_TTL", 1*time.Hour)
}

func (OAuth) GetDefaultRefreshTokenExpiry() time.Duration {
	return GetDurationEnv("REFRESH_TOKEN_TTL", 30*24*time.Hour)
}

func (OAuth) GetClockSkewLeeway() time.Duration {
	return GetDurationEnv("CLOCK_SKEW_LEEWAY", 30*time.Second)
}

// GetKeyRotationGrace is how long a retired signing key keeps serving
// verification. It must cover the longest-lived token still in flight,
// so the default is the refresh token lifetime plus an hour.
func (o OAuth) GetKeyRotationGrace() time.Duration {
	return GetDurationEnv("KEY_ROTATION_GRACE", o.GetDefaultRefreshTokenExpiry()+time.Hour)
}

// GetRefreshRotation reports whether redeeming a refresh token replaces
// it. Rotation is on unless REFRESH_ROTATION is set to "off".
func (OAuth) GetRefreshRotation() bool {
	return GetEnv("REFRESH_ROTATION", "on") != "off"
}
