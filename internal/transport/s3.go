package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// s3Fetcher serves s3://bucket/key origins. Ranged GetObject plays the role
// of the ranged GET; IfMatch carries the ETag validator so the server
// enforces it for us (a mismatch comes back as 412).
type s3Fetcher struct {
	client *s3.S3
}

func (p *Pool) s3Client() (*s3.S3, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.s3 != nil {
		return p.s3.client, nil
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	cfg := &aws.Config{
		Region: aws.String(region),
		// The pool's own retry loop governs the policy.
		MaxRetries: aws.Int(0),
	}
	if p.username != "" {
		cfg.Credentials = credentials.NewStaticCredentials(p.username, p.password, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fatalf("s3 session: %v", err)
	}
	p.s3 = &s3Fetcher{client: s3.New(sess)}
	return p.s3.client, nil
}

func (p *Pool) fetchS3(u *url.URL, req *Request, buf []byte, sink func([]byte) error) error {
	client, err := p.s3Client()
	if err != nil {
		return err
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return fatalf("malformed s3 URL %q", req.URL)
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", req.Offset, req.Offset+req.Length-1)),
	}
	if req.ETag != "" {
		input.IfMatch = aws.String(req.ETag)
	}
	output, err := client.GetObject(input)
	if err != nil {
		if rfErr, ok := err.(awserr.RequestFailure); ok {
			switch rfErr.StatusCode() {
			case http.StatusPreconditionFailed:
				return fatalf("ETag mismatch; expected %s", req.ETag)
			case http.StatusUnauthorized, http.StatusForbidden:
				return fatalf("authentication rejected: %v", err)
			}
		}
		return networkf("%v", err)
	}
	defer func() { _ = output.Body.Close() }()
	if req.LastModified != 0 {
		if output.LastModified == nil {
			return fatalf("couldn't read Last-Modified time")
		}
		if output.LastModified.Unix() != req.LastModified {
			return fatalf("timestamp mismatch; expected %d, found %d",
				req.LastModified, output.LastModified.Unix())
		}
	}
	return readBody(output.Body, req, buf, sink)
}
