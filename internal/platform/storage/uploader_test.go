package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	attrs  ObjectAttrs
	data   bytes.Buffer
	closed bool
	ctx    context.Context
}

type fakeWriter struct {
	obj      *fakeObject
	writeErr error
	closeErr error
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.obj.data.Write(p)
}

func (w *fakeWriter) Close() error {
	w.obj.closed = true
	return w.closeErr
}

type fakeBucket struct {
	name      string
	objects   map[string]*fakeObject
	writeErr  error
	closeErr  error
	deleteErr error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{name: "media", objects: map[string]*fakeObject{}}
}

func (b *fakeBucket) Name() string { return b.name }

func (b *fakeBucket) NewWriter(ctx context.Context, object string, attrs ObjectAttrs) io.WriteCloser {
	obj := &fakeObject{attrs: attrs, ctx: ctx}
	b.objects[object] = obj
	return &fakeWriter{obj: obj, writeErr: b.writeErr, closeErr: b.closeErr}
}

func (b *fakeBucket) Delete(_ context.Context, object string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, object)
	return nil
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func newTestUploader(t *testing.T, bucket Bucket, maxBytes int64) *MediaUploader {
	t.Helper()
	u, err := NewMediaUploader(bucket, "https://storage.googleapis.com/", maxBytes,
		WithClock(func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string { return "01PROOF" }),
	)
	require.NoError(t, err)
	return u
}

func TestUploadPaymentProofWritesObject(t *testing.T) {
	bucket := newFakeBucket()
	u := newTestUploader(t, bucket, 1024)

	res, err := u.UploadPaymentProof(context.Background(), ProofUpload{
		StoreID:     "store_1",
		FileName:    "transfer.png",
		ContentType: "image/png",
		Body:        bytes.NewReader(pngBytes),
	})
	require.NoError(t, err)

	assert.Equal(t, "stores/store_1/payment-proofs/2026/03/01PROOF.png", res.Object)
	assert.Equal(t, "https://storage.googleapis.com/media/stores/store_1/payment-proofs/2026/03/01PROOF.png", res.URL)
	assert.Equal(t, int64(len(pngBytes)), res.Size)

	obj := bucket.objects[res.Object]
	require.NotNil(t, obj)
	assert.True(t, obj.closed)
	assert.Equal(t, pngBytes, obj.data.Bytes())
	assert.Equal(t, "image/png", obj.attrs.ContentType)
	assert.Equal(t, "transfer.png", obj.attrs.Metadata["originalName"])
}

func TestUploadPaymentProofSniffsMissingContentType(t *testing.T) {
	bucket := newFakeBucket()
	u := newTestUploader(t, bucket, 1024)

	res, err := u.UploadPaymentProof(context.Background(), ProofUpload{
		StoreID:     "store_1",
		ContentType: "application/octet-stream",
		Body:        strings.NewReader("%PDF-1.7\n1 0 obj\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", res.ContentType)
	assert.True(t, strings.HasSuffix(res.Object, "01PROOF.pdf"))
}

func TestUploadPaymentProofRejectsContentTypes(t *testing.T) {
	cases := map[string]ProofUpload{
		"disallowed": {StoreID: "s", ContentType: "image/gif", Body: strings.NewReader("GIF89a......")},
		"mismatch":   {StoreID: "s", ContentType: "image/jpeg", Body: bytes.NewReader(pngBytes)},
		"plain text": {StoreID: "s", Body: strings.NewReader("hello there")},
		"bad header": {StoreID: "s", ContentType: "image/png; =", Body: bytes.NewReader(pngBytes)},
	}
	for name, upload := range cases {
		t.Run(name, func(t *testing.T) {
			bucket := newFakeBucket()
			_, err := newTestUploader(t, bucket, 1024).UploadPaymentProof(context.Background(), upload)
			assert.ErrorIs(t, err, ErrUnsupportedContentType)
			assert.Empty(t, bucket.objects)
		})
	}
}

func TestUploadPaymentProofRejectsOversizedFiles(t *testing.T) {
	bucket := newFakeBucket()
	u := newTestUploader(t, bucket, int64(len(pngBytes)-1))

	_, err := u.UploadPaymentProof(context.Background(), ProofUpload{StoreID: "s", ContentType: "image/png", Body: bytes.NewReader(pngBytes)})
	require.ErrorIs(t, err, ErrTooLarge)

	obj := bucket.objects["stores/s/payment-proofs/2026/03/01PROOF.png"]
	require.NotNil(t, obj)
	assert.True(t, obj.closed)
	assert.Error(t, obj.ctx.Err(), "writer context is cancelled so the object is not committed")
}

func TestUploadPaymentProofRejectsEmptyBody(t *testing.T) {
	u := newTestUploader(t, newFakeBucket(), 1024)
	_, err := u.UploadPaymentProof(context.Background(), ProofUpload{StoreID: "s", ContentType: "image/png", Body: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrEmptyUpload)
	_, err = u.UploadPaymentProof(context.Background(), ProofUpload{StoreID: "s"})
	assert.ErrorIs(t, err, ErrEmptyUpload)
}

func TestUploadPaymentProofWrapsWriterErrors(t *testing.T) {
	bucket := newFakeBucket()
	bucket.closeErr = errors.New("googleapi: 503")
	u := newTestUploader(t, bucket, 1024)

	_, err := u.UploadPaymentProof(context.Background(), ProofUpload{StoreID: "s", ContentType: "image/png", Body: bytes.NewReader(pngBytes)})
	require.Error(t, err)
	assert.ErrorIs(t, err, bucket.closeErr)
}

func TestDeletePaymentProofRemovesObject(t *testing.T) {
	bucket := newFakeBucket()
	u := newTestUploader(t, bucket, 1024)
	ctx := context.Background()

	res, err := u.UploadPaymentProof(ctx, ProofUpload{StoreID: "store_1", ContentType: "image/png", Body: bytes.NewReader(pngBytes)})
	require.NoError(t, err)
	require.NoError(t, u.DeletePaymentProof(ctx, res.Object))
	assert.Empty(t, bucket.objects)

	assert.Error(t, u.DeletePaymentProof(ctx, "stores/store_1/logo.png"))
	assert.Error(t, u.DeletePaymentProof(ctx, ""))

	bucket.deleteErr = errors.New("googleapi: 503")
	err = u.DeletePaymentProof(ctx, res.Object)
	assert.ErrorIs(t, err, bucket.deleteErr)
}

func TestNewMediaUploaderValidates(t *testing.T) {
	_, err := NewMediaUploader(nil, "https://cdn", 0)
	assert.Error(t, err)
	_, err = NewMediaUploader(newFakeBucket(), " ", 0)
	assert.Error(t, err)

	u, err := NewMediaUploader(newFakeBucket(), "https://cdn", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5<<20), u.MaxBytes())
}
