package featureflags

import (
	"net/http"
	"os"
	"strings"
)

func init() {
	flagEnabler = map[string]enabler{}
	flagEnabler["tracing"] = anyOf(hasFlagInHeader, hasFlagInCookie)
}

var flagEnabler map[string]enabler

type enabler func(flag string, r *http.Request) bool

// Enabled reports whether flag is on, either for the whole process through an
// environment variable named after it or for a single request.
func Enabled(flag string, r *http.Request) bool {
	if _, ok := os.LookupEnv("FF_" + strings.ToUpper(flag)); ok {
		return true
	}

	e, ok := flagEnabler[flag]
	if !ok || r == nil {
		return false
	}

	return e(flag, r)
}

func anyOf(enablers ...enabler) enabler {
	return func(flag string, r *http.Request) bool {
		for _, e := range enablers {
			if e(flag, r) {
				return true
			}
		}
		return false
	}
}

func hasFlagInCookie(flag string, r *http.Request) bool {
	_, err := r.Cookie(flag)
	return err == nil
}

func hasFlagInHeader(flag string, r *http.Request) bool {
	for _, f := range strings.Split(r.Header.Get("X-Feature-Flags"), ",") {
		if strings.TrimSpace(f) == flag {
			return true
		}
	}
	return false
}
