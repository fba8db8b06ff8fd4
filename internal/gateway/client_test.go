package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func TestSendPassesCommandAndToken(t *testing.T) {
	var gotCommand, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCommand = r.URL.Query().Get("command")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/api", Tokens: staticToken("abc")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	body, err := c.Send(context.Background(), "ping & more")
	if err != nil {
		t.Fatal(err)
	}
	if body != "pong" {
		t.Errorf("body = %q, want pong", body)
	}
	if gotCommand != "ping & more" {
		t.Errorf("command = %q, want %q", gotCommand, "ping & more")
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("authorization = %q, want Bearer abc", gotAuth)
	}
}

func TestSendWithoutTokenOmitsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("unexpected Authorization header %q", h)
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Tokens: staticToken("")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Send(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
}

func TestSendHTTPError(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{http.StatusUnauthorized, "Not authorized"},
		{http.StatusNotFound, "does not know"},
		{http.StatusInternalServerError, "ran into an error"},
		{http.StatusTeapot, "status 418"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			defer srv.Close()

			c, _ := New(Config{BaseURL: srv.URL}, nil)
			_, err := c.Send(context.Background(), "x")

			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("err = %T %v, want *HTTPError", err, err)
			}
			if httpErr.StatusCode != tt.code {
				t.Errorf("status = %d, want %d", httpErr.StatusCode, tt.code)
			}
			if got := Describe(err); !strings.Contains(got, tt.want) {
				t.Errorf("Describe = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestSendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, _ := New(Config{BaseURL: url, Timeout: time.Second}, nil)
	_, err := c.Send(context.Background(), "x")

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("err = %T %v, want *TransportError", err, err)
	}
	if !transportErr.Temporary() {
		t.Error("transport errors are temporary")
	}
	if got := Describe(err); !strings.Contains(got, "Could not reach") {
		t.Errorf("Describe = %q", got)
	}
}

func TestSendTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, _ := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := c.Send(context.Background(), "x")

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("err = %T %v, want *TransportError", err, err)
	}
}

func TestSendCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Send(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "::bad"} {
		if _, err := New(Config{BaseURL: raw}, nil); err == nil {
			t.Errorf("New(%q) should fail", raw)
		}
	}
}
