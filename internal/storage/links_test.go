package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	input   *s3.GetObjectInput
	expires time.Duration
	err     error
}

func (f *fakePresigner) PresignGetObject(_ context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.input = params
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://downloads.s3.amazonaws.com/" + aws.ToString(params.Key) + "?X-Amz-Signature=abc"}, nil
}

func TestPresignDownload(t *testing.T) {
	fake := &fakePresigner{}
	l := newS3Linker(fake, "downloads", 0)

	url, ttl, err := l.PresignDownload(context.Background(), "/apps/widget.zip")
	require.NoError(t, err)
	assert.Equal(t, DefaultLinkTTL, ttl)
	assert.Equal(t, DefaultLinkTTL, fake.expires)
	assert.Equal(t, "apps/widget.zip", aws.ToString(fake.input.Key))
	assert.Equal(t, "downloads", aws.ToString(fake.input.Bucket))
	assert.Contains(t, url, "X-Amz-Signature")
}

func TestPresignDownloadErrors(t *testing.T) {
	l := newS3Linker(&fakePresigner{}, "downloads", time.Hour)
	_, _, err := l.PresignDownload(context.Background(), " ")
	assert.Error(t, err)

	l = newS3Linker(&fakePresigner{}, "", time.Hour)
	_, _, err = l.PresignDownload(context.Background(), "k")
	assert.Error(t, err)

	l = newS3Linker(&fakePresigner{err: errors.New("no credentials")}, "downloads", time.Hour)
	_, _, err = l.PresignDownload(context.Background(), "k")
	assert.ErrorContains(t, err, "no credentials")
}
