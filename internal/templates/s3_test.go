package templates_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kiranshivaraju/enaupload/internal/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// objectServer answers GetObject for a fixed set of path-style keys.
type objectServer struct {
	objects map[string]string
	paths   []string
}

func (o *objectServer) RoundTrip(req *http.Request) (*http.Response, error) {
	o.paths = append(o.paths, req.URL.Path)
	body, ok := o.objects[req.URL.Path]
	if !ok {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Header:     http.Header{"Content-Type": {"application/xml"}},
			Body:       io.NopCloser(strings.NewReader(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)),
			Request:    req,
		}, nil
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{"Content-Type": {"application/yaml"}},
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(strings.NewReader(body)),
		Request:       req,
	}, nil
}

func newS3Store(t *testing.T, rt http.RoundTripper) *templates.S3Store {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://s3.test.local")
	})
	return templates.NewS3StoreFromClient(client, "tmpl", "ena")
}

func TestS3Store_Load(t *testing.T) {
	srv := &objectServer{objects: map[string]string{
		"/tmpl/ena/default.yml": "center_name: UGENT\nsample:\n  alias: s-{}\n",
	}}
	store := newS3Store(t, srv)

	doc, err := store.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "UGENT", doc["center_name"])
	assert.Equal(t, map[string]any{"alias": "s-{}"}, doc["sample"])
}

func TestS3Store_NotFound(t *testing.T) {
	store := newS3Store(t, &objectServer{objects: map[string]string{}})

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
}

func TestS3Store_InvalidName(t *testing.T) {
	srv := &objectServer{objects: map[string]string{}}
	store := newS3Store(t, srv)

	_, err := store.Load(context.Background(), "../secret")
	assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
	assert.Empty(t, srv.paths, "no request for rejected names")
}
