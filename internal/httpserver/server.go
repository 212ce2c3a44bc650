package httpserver

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/rtc"
	"github.com/leadline-ai/leadline/internal/telephony"
)

// Deps are the transport handlers the server routes to. Telephony is
// optional; when nil the /twilio routes are not registered.
type Deps struct {
	RTC       *rtc.Handler
	Telephony *telephony.Service
}

// Server wraps the configured echo instance.
type Server struct {
	Echo *echo.Echo
}

// New constructs the HTTP server with routes and middleware.
func New(cfg config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.POST("/call", func(c echo.Context) error {
		if !callAuthOK(c.Request(), cfg.AuthPassword) {
			return c.String(http.StatusUnauthorized, "unauthorized")
		}
		var offer rtc.SessionDescription
		if err := c.Bind(&offer); err != nil {
			log.Printf("invalid offer: %v", err)
			return c.String(http.StatusBadRequest, "invalid offer")
		}
		answer, err := deps.RTC.HandleOffer(c.Request().Context(), offer)
		if err != nil {
			log.Printf("handle offer: %v", err)
			return c.String(http.StatusInternalServerError, "offer failed")
		}
		return c.JSON(http.StatusOK, answer)
	})

	e.GET("/ws", func(c echo.Context) error {
		deps.RTC.ServeWebSocket(c.Response(), c.Request())
		return nil
	})

	if deps.Telephony != nil {
		deps.Telephony.RegisterHandlers(e)
	}

	return &Server{Echo: e}
}

// callAuthOK checks the shared call password. An empty configured password
// disables the check.
func callAuthOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	if q := r.URL.Query().Get("password"); q == expected {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == expected {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == expected {
		return true
	}
	return false
}
