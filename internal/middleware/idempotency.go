package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/cassiomorais/fiscalbridge/internal/repository/postgres"
	"github.com/rs/zerolog"
)

const (
	maxIdempotencyBodySize = 1 << 20
	IdempotencyHeader      = "Idempotency-Key"
)

// IdempotencyStore persists replayable responses.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*postgres.IdempotencyEntry, error)
	Set(ctx context.Context, entry *postgres.IdempotencyEntry) error
}

// Lease is a held lock that expires unless refreshed.
type Lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// KeyLocker serialises requests that share an Idempotency-Key.
type KeyLocker interface {
	TryLease(ctx context.Context, key string) (Lease, error)
}

// LeaseFunc adapts a function to KeyLocker.
type LeaseFunc func(ctx context.Context, key string) (Lease, error)

func (f LeaseFunc) TryLease(ctx context.Context, key string) (Lease, error) {
	return f(ctx, key)
}

// Leases adapts a locker that returns its own lease type.
func Leases[L Lease](tryLease func(ctx context.Context, key string) (L, error)) KeyLocker {
	return LeaseFunc(func(ctx context.Context, key string) (Lease, error) {
		l, err := tryLease(ctx, key)
		if err != nil {
			return nil, err
		}
		return l, nil
	})
}

// IdempotencyConfig controls response retention and the in-flight lock.
type IdempotencyConfig struct {
	// TTL is how long a stored response is replayed.
	TTL time.Duration
	// LockRefresh is how often the in-flight lock is extended. It must be
	// shorter than the lock's own TTL; zero disables refreshing.
	LockRefresh time.Duration
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// A second request arriving while the first is still waiting on the driver
// gets 409; the first holds its lock for as long as the handler runs, however
// long the driver takes. Responses below 500 are stored, and so is 504: the
// command reached the inbox, so sending it again could print twice.
func Idempotency(store IdempotencyStore, locker KeyLocker, cfg IdempotencyConfig, logger zerolog.Logger) func(http.Handler) http.Handler {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			log := logger.With().Str("idempotency_key", key).Logger()

			if replay(w, r, store, key, log) {
				return
			}

			if locker != nil {
				lease, err := locker.TryLease(r.Context(), "idempotency:"+key)
				switch {
				case errors.Is(err, domainErrors.ErrLockAcquisitionFailed):
					writeMiddlewareError(w, http.StatusConflict, domainErrors.ErrRequestInProgress.Error(), "request_in_progress")
					return
				case err != nil:
					log.Warn().Err(err).Msg("idempotency lock unavailable, continuing without it")
				default:
					stop := keepAlive(context.WithoutCancel(r.Context()), lease, cfg.LockRefresh, log)
					defer func() {
						stop()
						if err := lease.Release(context.WithoutCancel(r.Context())); err != nil {
							log.Warn().Err(err).Msg("failed to release idempotency lock")
						}
					}()
					// the holder we waited on may have stored its response
					if replay(w, r, store, key, log) {
						return
					}
				}
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if !storable(rec.statusCode) || rec.bodyTruncated {
				return
			}
			now := time.Now()
			err := store.Set(context.WithoutCancel(r.Context()), &postgres.IdempotencyEntry{
				Key:            key,
				Method:         r.Method,
				Path:           r.URL.Path,
				ResponseBody:   rec.body.String(),
				ResponseStatus: rec.statusCode,
				CreatedAt:      now,
				ExpiresAt:      now.Add(ttl),
			})
			if err != nil {
				log.Error().Err(err).Msg("failed to store idempotent response")
			}
		})
	}
}

// keepAlive refreshes lease every interval until the returned stop is called.
// stop waits for the refresher to exit.
func keepAlive(ctx context.Context, lease Lease, interval time.Duration, log zerolog.Logger) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			err := lease.Refresh(ctx)
			switch {
			case errors.Is(err, domainErrors.ErrLockNotHeld):
				log.Error().Msg("idempotency lock lost while request in flight")
				return
			case err != nil:
				log.Warn().Err(err).Msg("failed to refresh idempotency lock")
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// replay writes the stored response for key, if any, and reports whether it
// did. A key reused on another route is rejected.
func replay(w http.ResponseWriter, r *http.Request, store IdempotencyStore, key string, log zerolog.Logger) bool {
	entry, err := store.Get(r.Context(), key)
	if err != nil {
		log.Warn().Err(err).Msg("idempotency lookup failed")
		return false
	}
	if entry == nil {
		return false
	}
	if entry.Method != r.Method || entry.Path != r.URL.Path {
		writeMiddlewareError(w, http.StatusUnprocessableEntity, "idempotency key already used for another request", "idempotency_key_reused")
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(entry.ResponseStatus)
	w.Write([]byte(entry.ResponseBody))
	return true
}

func storable(status int) bool {
	return (status >= 200 && status < 500) || status == http.StatusGatewayTimeout
}

func writeMiddlewareError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
