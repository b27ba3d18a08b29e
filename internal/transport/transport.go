// Package transport fetches byte ranges of an origin object over HTTP(S)
// or S3. All requests of a pool share cookies, connection state and
// credentials; validators pin the session's view of the object.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/icholy/digest"
)

// Version is reported in the User-Agent header.
const Version = "0.5"

const tries = 5

// RetryDelay is the pause between attempts at a network-class error. It is
// a variable so that tests do not have to wait out the production delay.
var RetryDelay = 5 * time.Second

// ErrInterrupted reports that the cancellation predicate fired while a
// request was in flight.
var ErrInterrupted = errors.New("operation interrupted")

// A Request describes one ranged fetch. Offset and Length address the
// remote object; validators are enforced before any body byte is accepted.
type Request struct {
	URL          string
	ETag         string // expected entity tag; empty means unchecked
	LastModified int64  // expected filetime in epoch seconds; 0 means unchecked
	Offset       uint64
	Length       uint64
	ShouldCancel func() bool
}

// Pool is a set of reusable origin connections sharing cookie, DNS and TLS
// session state, plus the credentials of the owning image. The underlying
// http.Transport keeps idle connections alive between fetches.
type Pool struct {
	client    *http.Client
	userAgent string
	username  string
	password  string

	mu sync.Mutex
	s3 *s3Fetcher // created on first s3:// fetch
}

func NewPool(username, password string) (*Pool, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fatalf("cookie jar: %v", err)
	}
	return &Pool{
		client: &http.Client{
			Jar: jar,
			Transport: &digest.Transport{
				Username: username,
				Password: password,
			},
		},
		userAgent: fmt.Sprintf("vmnetfs/%s Go-http-client", Version),
		username:  username,
		password:  password,
	}, nil
}

// SetCookie loads one Set-Cookie line from the configuration into the
// shared jar, scoped by the origin URL. Must be called before the first
// request.
func (p *Pool) SetCookie(origin, line string) error {
	u, err := url.Parse(origin)
	if err != nil {
		return fatalf("cookie origin %q: %v", origin, err)
	}
	header := http.Header{"Set-Cookie": {line}}
	cookies := (&http.Response{Header: header}).Cookies()
	if len(cookies) == 0 {
		return fatalf("unparseable cookie %q", line)
	}
	p.client.Jar.SetCookies(u, cookies)
	return nil
}

// Fetch retrieves req.Length bytes into buf, retrying network-class errors
// up to five times with a fixed delay. Fatal errors and interruptions are
// returned at once.
func (p *Pool) Fetch(req *Request, buf []byte) error {
	var err error
	for i := 0; i < tries; i++ {
		if i > 0 {
			time.Sleep(RetryDelay)
		}
		err = p.fetch(req, buf, nil)
		if err == nil || !isNetwork(err) {
			return err
		}
	}
	return err
}

// FetchStreamOnce makes a single attempt, delivering body bytes to sink as
// they arrive. Used for log and event streams, which must not be replayed
// by a retry.
func (p *Pool) FetchStreamOnce(req *Request, sink func([]byte) error) error {
	return p.fetch(req, nil, sink)
}

func isNetwork(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Network
}

// fetch makes one attempt. Exactly one of buf and sink is non-nil.
func (p *Pool) fetch(req *Request, buf []byte, sink func([]byte) error) error {
	u, err := url.Parse(req.URL)
	if err != nil {
		return fatalf("parse %q: %v", req.URL, err)
	}
	if u.Scheme == "s3" {
		return p.fetchS3(u, req, buf, sink)
	}

	hreq, err := http.NewRequest("GET", req.URL, nil)
	if err != nil {
		return fatalf("request %q: %v", req.URL, err)
	}
	hreq.Header.Set("User-Agent", p.userAgent)
	hreq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", req.Offset, req.Offset+req.Length-1))
	if p.username != "" {
		hreq.SetBasicAuth(p.username, p.password)
	}
	resp, err := p.client.Do(hreq)
	if err != nil {
		// DNS, connect and timeout failures all surface here.
		return networkf("%v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fatalf("authentication rejected: %s", resp.Status)
	case resp.StatusCode >= 400:
		return networkf("server returned %s", resp.Status)
	}
	// Validators belong to the final response, after any redirects, and are
	// checked before the first body byte is accepted.
	if req.ETag != "" {
		etag := resp.Header.Get("Etag")
		if etag == "" {
			return fatalf("server did not return ETag")
		}
		if etag != req.ETag {
			return fatalf("ETag mismatch; expected %s, found %s", req.ETag, etag)
		}
	}
	if req.LastModified != 0 {
		filetime, err := http.ParseTime(resp.Header.Get("Last-Modified"))
		if err != nil {
			return fatalf("couldn't read Last-Modified time")
		}
		if filetime.Unix() != req.LastModified {
			return fatalf("timestamp mismatch; expected %d, found %d",
				req.LastModified, filetime.Unix())
		}
	}
	return readBody(resp.Body, req, buf, sink)
}

// readBody copies exactly req.Length body bytes into buf or through sink,
// polling the cancellation predicate between reads.
func readBody(body io.Reader, req *Request, buf []byte, sink func([]byte) error) error {
	var scratch []byte
	if buf == nil {
		scratch = make([]byte, 32<<10)
	}
	var got uint64
	for got < req.Length {
		if req.ShouldCancel != nil && req.ShouldCancel() {
			return ErrInterrupted
		}
		var p []byte
		if buf != nil {
			p = buf[got:req.Length]
		} else {
			p = scratch
			if rest := req.Length - got; rest < uint64(len(p)) {
				p = p[:rest]
			}
		}
		n, err := body.Read(p)
		if n > 0 {
			if sink != nil {
				if serr := sink(p[:n]); serr != nil {
					return fatalf("stream callback: %v", serr)
				}
			}
			got += uint64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return networkf("reading body: %v", err)
		}
	}
	if got < req.Length {
		return fatalf("short read from server: %d/%d", got, req.Length)
	}
	return nil
}
