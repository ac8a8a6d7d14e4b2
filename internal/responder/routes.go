package responder

import (
	"net/http"
	"time"
)

const (
	// ServiceName is reported by the health route.
	ServiceName = "demo-app"

	PathHome   = "/"
	PathHealth = "/health"
	PathHello  = "/api/hello"

	WelcomeMessage = "Welcome to the Demo Application!"
	HelloMessage   = "Hello from the Demo API!"
	StatusUp       = "UP"
)

// DefaultRoutes returns the demo application's route table. The home route
// reads clock on every call and renders the time in loc.
func DefaultRoutes(clock Clock, loc *time.Location) []Route {
	return []Route{
		{
			Key: RouteKey{Method: http.MethodGet, Path: PathHome},
			Build: func() Payload {
				return Payload{
					"message":   WelcomeMessage,
					"timestamp": FormatTimestamp(clock.Now(), loc),
				}
			},
		},
		{
			Key: RouteKey{Method: http.MethodGet, Path: PathHealth},
			Build: func() Payload {
				return Payload{
					"status":  StatusUp,
					"service": ServiceName,
				}
			},
		},
		{
			Key: RouteKey{Method: http.MethodGet, Path: PathHello},
			Build: func() Payload {
				return Payload{"message": HelloMessage}
			},
		},
	}
}

// NewDefault returns a Responder serving DefaultRoutes.
func NewDefault(clock Clock, loc *time.Location) *Responder {
	r, err := New(DefaultRoutes(clock, loc))
	if err != nil {
		// The default table is static; a failure here is a programming error.
		panic(err)
	}
	return r
}
