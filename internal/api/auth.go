package api

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"

	"github.com/AaronLay10/LiveMix/internal/config"
)

// Role is what a console user may do to a running show.
//
// An operator watches the event log and drives windows and pipes with
// runtime commands. An admin may also replay the pre events, which restarts
// every pipe the script starts on load.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// account is one set of basic auth credentials bound to a role.
type account struct {
	role Role
	user string
	pass string
}

type authConfig struct {
	adminUser    string
	adminPass    string
	operatorUser string
	operatorPass string
	enabled      bool
}

// accounts lists the configured logins, strongest role first. Logins with an
// empty user or password are skipped.
func (c *authConfig) accounts() []account {
	var out []account
	for _, a := range []account{
		{RoleAdmin, c.adminUser, c.adminPass},
		{RoleOperator, c.operatorUser, c.operatorPass},
	} {
		if a.user != "" && a.pass != "" {
			out = append(out, a)
		}
	}
	return out
}

var auth *authConfig

// InitAuth reads the console logins from LIVEMIX_ADMIN_USER/PASS and
// LIVEMIX_OPERATOR_USER/PASS, each optionally given as a *_FILE. A show
// without an admin login runs with the console open.
func InitAuth() error {
	admin, err := config.ResolveCredentials("LIVEMIX_ADMIN")
	if err != nil {
		return fmt.Errorf("failed to resolve admin credentials: %w", err)
	}
	operator, err := config.ResolveCredentials("LIVEMIX_OPERATOR")
	if err != nil {
		return fmt.Errorf("failed to resolve operator credentials: %w", err)
	}

	auth = &authConfig{
		adminUser:    admin.User,
		adminPass:    admin.Password,
		operatorUser: operator.User,
		operatorPass: operator.Password,
		enabled:      admin.Set(),
	}
	if !auth.enabled {
		log.Printf("console authentication disabled: LIVEMIX_ADMIN_USER/LIVEMIX_ADMIN_PASS not set")
	}
	return nil
}

// IsAuthEnabled reports whether the console requires a login.
func IsAuthEnabled() bool {
	return auth != nil && auth.enabled
}

// authenticate returns the role of the request's login, or "" when the
// credentials match no account. An open console treats everyone as admin.
func authenticate(r *http.Request) Role {
	if !IsAuthEnabled() {
		return RoleAdmin
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	for _, a := range auth.accounts() {
		if secureCompare(user, a.user) && secureCompare(pass, a.pass) {
			return a.role
		}
	}
	return ""
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="LiveMix"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole admits requests whose login holds one of roles. Unknown logins
// get 401, known logins with another role get 403.
func RequireRole(handler http.HandlerFunc, roles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := authenticate(r)
		if role == "" {
			challenge(w)
			return
		}
		for _, allowed := range roles {
			if role == allowed {
				handler(w, r)
				return
			}
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole guards the routes every console user may reach: the event
// log and runtime commands.
func RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RoleOperator)
}

// RequireAdmin guards routes that restart the show, such as /pre.
func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin)
}
