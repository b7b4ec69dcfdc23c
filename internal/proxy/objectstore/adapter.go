// Package objectstore serves the object-storage connector family over the
// S3 API, which covers AWS S3 proper and S3-compatible stores (MinIO, Ceph)
// through a custom endpoint.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/proxyerr"
)

// defaultMaxKeys bounds one listing page returned to the caller.
const defaultMaxKeys = 1000

// Adapter lists objects in the connector's bucket.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Type() model.ProxyType { return model.TypeObjectS3 }

// Execute lists objects under the effective prefix. The caller's query, if
// given, narrows the prefix the token or connector bound.
func (a *Adapter) Execute(ctx context.Context, req proxy.Request) (*proxy.Result, error) {
	if req.Config.Bucket == "" {
		return nil, proxyerr.New(proxyerr.CodeValidationError, "connector has no bucket configured")
	}

	client, err := a.client(ctx, req)
	if err != nil {
		return nil, err
	}

	prefix := effectivePrefix(req.Resource, req.Query)
	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(req.Config.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(defaultMaxKeys),
	})
	if err != nil {
		return nil, classify(err, "object listing failed")
	}

	objects := make([]map[string]interface{}, 0, len(out.Contents))
	for _, obj := range out.Contents {
		entry := map[string]interface{}{
			"key":  aws.ToString(obj.Key),
			"size": aws.ToInt64(obj.Size),
		}
		if obj.LastModified != nil {
			entry["last_modified"] = obj.LastModified.UTC()
		}
		if obj.ETag != nil {
			entry["etag"] = strings.Trim(aws.ToString(obj.ETag), `"`)
		}
		// Self-hosted stores hand out URLs on their internal endpoint;
		// the response normalizer rewrites these onto the gateway address.
		if req.Config.Endpoint != "" {
			entry["url"] = objectURL(req.Config.Endpoint, req.Config.Bucket, aws.ToString(obj.Key))
		}
		objects = append(objects, entry)
	}

	return &proxy.Result{
		TargetKind: proxy.TargetBucket,
		Target:     req.Config.Bucket,
		Query:      prefix,
		RowCount:   len(objects),
		Data:       objects,
	}, nil
}

// Probe checks that the bucket exists and the credentials may touch it.
func (a *Adapter) Probe(ctx context.Context, req proxy.Request) error {
	if req.Config.Bucket == "" {
		return proxyerr.New(proxyerr.CodeValidationError, "connector has no bucket configured")
	}
	client, err := a.client(ctx, req)
	if err != nil {
		return err
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(req.Config.Bucket)}); err != nil {
		return classify(err, "bucket check failed")
	}
	return nil
}

func (a *Adapter) client(ctx context.Context, req proxy.Request) (*s3.Client, error) {
	region := req.Config.Region
	if region == "" {
		region = "us-east-1"
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(req.Creds.AccessKey, req.Creds.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.CodeStorageError, err, "object store configuration failed")
	}
	return s3.NewFromConfig(awscfg, func(o *s3.Options) {
		if req.Config.Endpoint != "" {
			o.BaseEndpoint = aws.String(req.Config.Endpoint)
			// Compatible stores do not resolve bucket subdomains.
			o.UsePathStyle = true
		}
	}), nil
}

// effectivePrefix narrows the bound prefix with the caller's query. A query
// outside the bound prefix extends it, never escapes it.
func effectivePrefix(bound, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return bound
	}
	if bound == "" {
		return query
	}
	if strings.HasPrefix(query, bound) {
		return query
	}
	return strings.TrimSuffix(bound, "/") + "/" + strings.TrimPrefix(query, "/")
}

func objectURL(endpoint, bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(endpoint, "/"), bucket, key)
}

func classify(err error, msg string) *proxyerr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return proxyerr.Network(err, "%s: backend timed out", msg)
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return proxyerr.Wrap(proxyerr.CodeNotFound, err, "bucket does not exist")
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NoSuchKey":
			return proxyerr.Wrap(proxyerr.CodeNotFound, err, "%s", msg)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return proxyerr.Wrap(proxyerr.CodePermissionDenied, err, "object store refused the stored credentials")
		}
		return proxyerr.Wrap(proxyerr.CodeStorageError, err, "%s", msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return proxyerr.Network(err, "%s: backend unreachable", msg)
	}
	return proxyerr.Wrap(proxyerr.CodeStorageError, err, "%s", msg)
}
