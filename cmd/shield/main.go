// Command shield runs a demo server wiring the engine to echo with
// in-memory session and storage backends. It exists to exercise the
// engine end to end; real applications embed the registry behind their
// own transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
	"gopkg.in/yaml.v3"

	"github.com/zero-auth/shield/pkg/methods/credentials"
	oauthm "github.com/zero-auth/shield/pkg/methods/oauth"
	oidcm "github.com/zero-auth/shield/pkg/methods/oidc"
	"github.com/zero-auth/shield/pkg/nonce"
	"github.com/zero-auth/shield/pkg/prettylog"
	"github.com/zero-auth/shield/pkg/session"
	sessionmemory "github.com/zero-auth/shield/pkg/session/memory"
	"github.com/zero-auth/shield/pkg/shield"
	"github.com/zero-auth/shield/pkg/storage/memory"
)

type Config struct {
	Address        string            `yaml:"address" validate:"required"`
	SignInRedirect string            `yaml:"sign_in_redirect"`
	OidcProviders  []oidcm.Provider  `yaml:"oidc_providers"`
	OauthProviders []oauthm.Provider `yaml:"oauth_providers"`
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &config, nil
}

const sessionCookie = "shield_session"

func configureLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("SHIELD_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if os.Getenv("SHIELD_LOG_FORMAT") == "pretty" {
		slog.SetDefault(slog.New(prettylog.NewHandler(level)))
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	godotenv.Load()
	configureLogging()

	configPath := os.Getenv("SHIELD_CONFIG")
	if configPath == "" {
		configPath = "shield.yaml"
	}

	config, err := loadConfigFile(configPath)
	if err != nil {
		slog.Error("unable to load config", "error", err)
		os.Exit(1)
	}
	if config.SignInRedirect == "" {
		config.SignInRedirect = "/"
	}

	store := memory.New()
	sessions := sessionmemory.New()

	nonces, err := nonce.NewService()
	if err != nil {
		slog.Error("unable to create nonce service", "error", err)
		os.Exit(1)
	}

	oidcMethod, err := oidcm.New(
		oidcm.WithStorage(store.Oidc()),
		oidcm.WithProviders(config.OidcProviders...),
		oidcm.WithSignInRedirect(config.SignInRedirect),
		oidcm.WithNonceService(nonces),
	)
	if err != nil {
		slog.Error("unable to create oidc method", "error", err)
		os.Exit(1)
	}

	oauthMethod, err := oauthm.New(
		oauthm.WithStorage(store.Oauth()),
		oauthm.WithProviders(config.OauthProviders...),
		oauthm.WithSignInRedirect(config.SignInRedirect),
	)
	if err != nil {
		slog.Error("unable to create oauth method", "error", err)
		os.Exit(1)
	}

	credentialsMethod, err := credentials.New(
		credentials.WithStorage(store),
		credentials.WithSignInRedirect(config.SignInRedirect),
	)
	if err != nil {
		slog.Error("unable to create credentials method", "error", err)
		os.Exit(1)
	}

	engine, err := shield.New(
		shield.WithMethod(credentialsMethod),
		shield.WithMethod(oauthMethod),
		shield.WithMethod(oidcMethod),
	)
	if err != nil {
		slog.Error("unable to create registry", "error", err)
		os.Exit(1)
	}

	app := &application{engine: engine, sessions: sessions}

	root := echo.New()
	root.HideBanner = true
	root.GET("/", app.whoami)
	root.GET("/auth/forms", app.forms)
	root.POST("/auth/sign-out", app.signOut)
	root.Match([]string{http.MethodGet, http.MethodPost}, "/auth/:method/sign-in", app.signIn)
	root.Match([]string{http.MethodGet, http.MethodPost}, "/auth/:method/:provider/sign-in", app.signIn)
	root.GET("/auth/:method/callback", app.signInCallback)
	root.GET("/auth/:method/:provider/callback", app.signInCallback)

	slog.Info("starting shield demo", "address", config.Address)
	if err := root.Start(config.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

type application struct {
	engine   *shield.Shield
	sessions session.Backend
}

// openSession binds the request to its session, minting a cookie when
// there is none yet.
func (a *application) openSession(c echo.Context) (*session.Session, error) {
	id := ""
	if cookie, err := c.Cookie(sessionCookie); err == nil {
		id = cookie.Value
	}
	if id == "" {
		id = ksuid.New().String()
	}
	return session.Open(c.Request().Context(), a.sessions, id)
}

// finishSession writes the (possibly rotated) session ID back to the
// cookie.
func (a *application) finishSession(c echo.Context, sess *session.Session) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *application) request(c echo.Context) *shield.Request {
	req := shield.NewRequest()
	req.Query = c.QueryParams()
	if form, err := c.FormParams(); err == nil {
		req.Form = form
	}
	return req
}

func (a *application) respond(c echo.Context, resp *shield.Response) error {
	if resp.IsRedirect() {
		return c.Redirect(http.StatusFound, resp.RedirectURL)
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *application) whoami(c echo.Context) error {
	sess, err := a.openSession(c)
	if err != nil {
		return httpError(err)
	}
	defer a.finishSession(c, sess)

	auth := sess.Authentication()
	if auth == nil {
		return c.JSON(http.StatusOK, map[string]any{"authenticated": false})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"authenticated": true,
		"method":        auth.MethodID,
		"provider":      auth.ProviderID,
		"user_id":       auth.UserID,
	})
}

func (a *application) forms(c echo.Context) error {
	sess, err := a.openSession(c)
	if err != nil {
		return httpError(err)
	}
	defer a.finishSession(c, sess)

	actionID := c.QueryParam("action")
	if actionID == "" {
		actionID = shield.ActionSignIn
	}

	forms, err := a.engine.Forms(c.Request().Context(), actionID, sess)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, forms)
}

func (a *application) signIn(c echo.Context) error {
	sess, err := a.openSession(c)
	if err != nil {
		return httpError(err)
	}
	defer a.finishSession(c, sess)

	resp, err := a.engine.SignIn(c.Request().Context(), c.Param("method"), c.Param("provider"), sess, a.request(c))
	if err != nil {
		return httpError(err)
	}
	return a.respond(c, resp)
}

func (a *application) signInCallback(c echo.Context) error {
	sess, err := a.openSession(c)
	if err != nil {
		return httpError(err)
	}
	defer a.finishSession(c, sess)

	resp, err := a.engine.SignInCallback(c.Request().Context(), c.Param("method"), c.Param("provider"), sess, a.request(c))
	if err != nil {
		return httpError(err)
	}
	return a.respond(c, resp)
}

func (a *application) signOut(c echo.Context) error {
	sess, err := a.openSession(c)
	if err != nil {
		return httpError(err)
	}
	defer a.finishSession(c, sess)

	resp, err := a.engine.SignOut(c.Request().Context(), sess)
	if err != nil {
		return httpError(err)
	}
	return a.respond(c, resp)
}

func httpError(err error) error {
	var notFound *shield.NotFoundError
	var validation *shield.ValidationError

	switch {
	case errors.As(err, &notFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, shield.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusRequestTimeout, "request canceled")
	default:
		slog.Error("request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
