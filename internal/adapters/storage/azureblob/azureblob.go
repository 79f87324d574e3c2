package azureblob

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	apperrors "relecloud/internal/pkg/errors"
	"relecloud/internal/ports"
)

// Options configures the Azure Blob Storage adapter.
type Options struct {
	ConnectionString string
	AccountName      string
	AccountKey       string
	ContainerName    string
	TTL              time.Duration
}

// Client implements ports.ObjectStore on an Azure Blob Storage container.
// Objects are block blobs; URLs carry a read-only service SAS signed with
// the account key.
type Client struct {
	container *container.Client
	cred      *azblob.SharedKeyCredential
	name      string
	ttl       time.Duration
	now       func() time.Time
}

// Open connects and verifies the container exists. It fails with
// CONTAINER_NOT_FOUND when the container is missing and
// INITIALIZATION_FAILURE for anything else (bad key, malformed connection
// string, unreachable account).
func Open(ctx context.Context, opts Options) (*Client, error) {
	name, key := credentials(opts)
	if name == "" || key == "" {
		return nil, apperrors.New(apperrors.CodeInitialization, "Azure account name and key are required to sign URLs")
	}
	cred, err := azblob.NewSharedKeyCredential(name, key)
	if err != nil {
		return nil, initFailure(err)
	}

	// Without a connection string the public endpoint of the account is used.
	var svc *azblob.Client
	if opts.ConnectionString != "" {
		svc, err = azblob.NewClientFromConnectionString(opts.ConnectionString, nil)
	} else {
		svc, err = azblob.NewClientWithSharedKeyCredential("https://"+name+".blob.core.windows.net/", cred, nil)
	}
	if err != nil {
		return nil, initFailure(err)
	}

	c := New(svc.ServiceClient().NewContainerClient(opts.ContainerName), cred, opts.ContainerName, opts.TTL)
	if err := c.CheckContainer(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// credentials prefers the explicit account fields and falls back to the
// AccountName and AccountKey entries of the connection string.
func credentials(opts Options) (name, key string) {
	name, key = opts.AccountName, opts.AccountKey
	if name != "" && key != "" {
		return name, key
	}
	for _, part := range strings.Split(opts.ConnectionString, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch {
		case strings.EqualFold(k, "AccountName") && name == "":
			name = v
		case strings.EqualFold(k, "AccountKey") && key == "":
			key = v
		}
	}
	return name, key
}

func New(cc *container.Client, cred *azblob.SharedKeyCredential, name string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{container: cc, cred: cred, name: name, ttl: ttl, now: time.Now}
}

func (c *Client) Provider() string { return "azure" }

func (c *Client) CheckContainer(ctx context.Context) error {
	_, err := c.container.GetProperties(ctx, nil)
	switch {
	case err == nil:
		return nil
	case bloberror.HasCode(err, bloberror.ContainerNotFound):
		return apperrors.Newf(apperrors.CodeContainerMissing, "Container %s not found", c.name).
			WithField("container", c.name)
	default:
		return initFailure(err)
	}
}

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, apperrors.ValidationField("object_key", "object key is required")
	}

	contentType := in.ResolveContentType()
	bb := c.container.NewBlockBlobClient(in.ObjectKey)

	counter := &countingReader{r: in.Reader}
	_, err := bb.UploadStream(ctx, counter, &blockblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return ports.PutObjectOutput{}, classify("azureblob.put", in.ObjectKey, err)
	}

	expiresAt := c.now().UTC().Add(c.ttl)
	signed, err := c.signedURL(bb.URL(), in.ObjectKey, expiresAt)
	if err != nil {
		return ports.PutObjectOutput{}, classify("azureblob.sign", in.ObjectKey, err)
	}

	return ports.PutObjectOutput{
		ObjectKey:   in.ObjectKey,
		ContentType: contentType,
		Size:        counter.n,
		URL:         signed,
		ExpiresAt:   expiresAt,
	}, nil
}

func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.container.NewBlobClient(key).Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return classify("azureblob.delete", key, err)
	}
	return nil
}

// signedURL appends a read-only SAS valid until expiresAt to blobURL.
func (c *Client) signedURL(blobURL, key string, expiresAt time.Time) (string, error) {
	protocol := sas.ProtocolHTTPS
	if !strings.HasPrefix(strings.ToLower(blobURL), "https://") {
		protocol = sas.ProtocolHTTPSandHTTP
	}
	perms := sas.BlobPermissions{Read: true}
	qp, err := sas.BlobSignatureValues{
		Protocol:      protocol,
		ExpiryTime:    expiresAt,
		Permissions:   perms.String(),
		ContainerName: c.name,
		BlobName:      key,
	}.SignWithSharedKey(c.cred)
	if err != nil {
		return "", err
	}
	return blobURL + "?" + qp.Encode(), nil
}

// classify maps an SDK error onto the storage error codes.
func classify(op, key string, err error) error {
	var (
		respErr *azcore.ResponseError
		netErr  net.Error
		urlErr  *url.Error
	)
	switch {
	case bloberror.HasCode(err, bloberror.BlobAlreadyExists):
		return apperrors.Newf(apperrors.CodeAlreadyExists, "File %s already exists", key).
			WithField("object_key", key)
	case errors.As(err, &respErr):
		return apperrors.WrapWithCode(err, apperrors.CodeUpload, op, "Failed to upload file").
			WithField("object_key", key).
			WithField("status", respErr.StatusCode)
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return apperrors.WrapWithCode(err, apperrors.CodeConnection, op, "Failed to connect to Azure Storage").
			WithField("object_key", key)
	default:
		return apperrors.WrapWithCode(err, apperrors.CodeUpload, op, "Failed to upload file").
			WithField("object_key", key)
	}
}

func initFailure(err error) error {
	return apperrors.WrapWithCode(err, apperrors.CodeInitialization, "azureblob.open", "Failed to initialize storage client")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ ports.ObjectStore = (*Client)(nil)
