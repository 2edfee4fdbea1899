package validators

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
)

// ParseQueryInt reads an integer query parameter and enforces its bounds.
func ParseQueryInt(r *http.Request, name string, fallback, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s parameter", name))
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("%s must be between %d and %d", name, min, max))
	}
	return value, nil
}
