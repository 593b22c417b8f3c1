package utils

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/bsm/redislock"
	"github.com/ttacon/libphonenumber"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
)

var CountryCode = "IN"

func IsValidEmail(email string) bool {
	// Basic email validation regex pattern
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err // Phone number is invalid
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}

	return nil // Phone number is valid for the specified country code
}

func GenerateUniqueFilename() string {
	timestamp := time.Now().UnixNano()
	random := rand.Intn(1000)
	return fmt.Sprintf("%d_%d", timestamp, random)
}

func UniqueSlice[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ObtainRedisLock grabs a best-effort cross-instance lock. Returns nil when
// Redis is unavailable: reliability must not depend on Redis (custody posting
// is additionally serialized via MySQL advisory locks).
func ObtainRedisLock(ctx context.Context, key string, ttl time.Duration) *redislock.Lock {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil
	}
	lock, err := locker.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if err != nil {
		return nil
	}
	return lock
}

func ReleaseRedisLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	_ = lock.Release(ctx)
}
