package forum

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
)

// ErrNoContainer is returned when a thread page lacks the post content element.
var ErrNoContainer = errors.New("post content container not found")

// CredentialError signals that the forum session is not (or no longer) authorized.
type CredentialError struct {
	Endpoint string
	Marker   string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("forum %s: session not authorized (%s)", e.Endpoint, e.Marker)
}

// IsCredentialError reports whether err carries a CredentialError.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// StatusError is a non-200 forum response, or a 200 carrying a gateway error page.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("forum %s returned status %d body: %s", e.Endpoint, e.Code, e.Body)
}

// Gateway reports whether the upstream was overloaded; httpclient.IsTransient honours it.
func (e *StatusError) Gateway() bool {
	return httpclient.IsGatewayStatus(e.Code)
}

// IsGatewayTimeout reports whether err is a forum 504, the signal the probe backs off on.
func IsGatewayTimeout(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusGatewayTimeout
}
