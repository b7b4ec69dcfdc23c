// Package document serves the document-mongo connector family. The query is
// an extended-JSON filter document; results are the matching documents of
// the bound collection.
package document

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/proxyerr"
)

// defaultLimit bounds a find issued with an empty filter.
const defaultLimit = 100

// Adapter executes find queries against MongoDB.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Type() model.ProxyType { return model.TypeMongo }

// Execute connects, runs a find on the bound collection, and returns the
// matching documents. The connection lives only for this request.
func (a *Adapter) Execute(ctx context.Context, req proxy.Request) (*proxy.Result, error) {
	if req.Resource == "" {
		return nil, proxyerr.New(proxyerr.CodeValidationError, "connector has no collection bound")
	}
	filter, err := parseFilter(req.Query)
	if err != nil {
		return nil, err
	}

	client, err := a.connect(ctx, req)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(context.Background())

	coll := client.Database(req.Config.Database).Collection(req.Resource)
	cursor, err := coll.Find(ctx, filter, options.Find().SetLimit(defaultLimit))
	if err != nil {
		return nil, classify(err, "find failed")
	}
	defer cursor.Close(ctx)

	docs := make([]bson.M, 0, 16)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(err, "cursor drain failed")
	}

	echo := req.Query
	if echo == "" {
		echo = "{}"
	}
	return &proxy.Result{
		TargetKind: proxy.TargetDatabase,
		Target:     req.Config.Database,
		Query:      echo,
		RowCount:   len(docs),
		Data:       docs,
	}, nil
}

// Probe verifies the deployment answers a ping with the given credentials.
func (a *Adapter) Probe(ctx context.Context, req proxy.Request) error {
	client, err := a.connect(ctx, req)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return classify(err, "ping failed")
	}
	return nil
}

func (a *Adapter) connect(ctx context.Context, req proxy.Request) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(buildURI(req.Config))
	if req.Creds.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   req.Creds.Username,
			Password:   req.Creds.Password,
			AuthSource: req.Config.Database,
		})
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, classify(err, "connect failed")
	}
	return client, nil
}

// buildURI assembles the mongodb:// URI from the connector config. The
// credentials travel through client options, never the URI, so they cannot
// leak through error strings that echo the address.
func buildURI(cfg model.ConnectionConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 27017
	}
	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port)),
		Path:   "/",
	}
	if cfg.UseTLS {
		u.RawQuery = "tls=true"
	}
	return u.String()
}

// parseFilter turns the caller's query into a bson filter. An empty query
// matches everything; anything non-empty must be a valid extended-JSON
// document.
func parseFilter(query string) (bson.M, error) {
	if strings.TrimSpace(query) == "" {
		return bson.M{}, nil
	}
	var filter bson.M
	if err := bson.UnmarshalExtJSON([]byte(query), true, &filter); err != nil {
		return nil, proxyerr.Wrap(proxyerr.CodeValidationError, err, "query is not a valid JSON filter document")
	}
	return filter, nil
}

func classify(err error, msg string) *proxyerr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return proxyerr.Network(err, "%s: backend unreachable", msg)
	}
	return proxyerr.Wrap(proxyerr.CodeStorageError, err, "%s", msg)
}
