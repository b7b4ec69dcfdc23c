package normalize

import (
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func testRewriter() *Rewriter {
	return New("gateway.example.com", 8080, []int{5432, 9000, 27017})
}

func TestRewriteURL(t *testing.T) {
	r := testRewriter()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "internal port rewritten to gateway",
			in:   "http://db.internal:5432/reports/latest",
			want: "http://gateway.example.com:8080/reports/latest",
		},
		{
			name: "https to loopback downgrades",
			in:   "https://127.0.0.1/files/a.csv",
			want: "http://127.0.0.1/files/a.csv",
		},
		{
			name: "https to localhost downgrades",
			in:   "https://localhost:3000/app",
			want: "http://localhost:3000/app",
		},
		{
			name: "https to private address downgrades",
			in:   "https://10.1.2.3/metrics",
			want: "http://10.1.2.3/metrics",
		},
		{
			name: "public https untouched",
			in:   "https://api.example.com/v2/items",
			want: "https://api.example.com/v2/items",
		},
		{
			// The downgrade rule looks at the host after the port rewrite,
			// so a public gateway host keeps https.
			name: "internal port on https private host keeps https once public",
			in:   "https://192.168.1.5:9000/objects",
			want: "https://gateway.example.com:8080/objects",
		},
		{
			name: "non-URL string untouched",
			in:   "order 42: shipped",
			want: "order 42: shipped",
		},
		{
			name: "relative path untouched",
			in:   "/static/logo.png",
			want: "/static/logo.png",
		},
		{
			name: "non-http scheme untouched",
			in:   "ftp://files.internal:5432/dump.sql",
			want: "ftp://files.internal:5432/dump.sql",
		},
		{
			name: "query and fragment preserved",
			in:   "http://svc.internal:9000/search?q=a%20b#top",
			want: "http://gateway.example.com:8080/search?q=a%20b#top",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.RewriteURL(tt.in); got != tt.want {
				t.Errorf("RewriteURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRewriteWalksContainers(t *testing.T) {
	r := testRewriter()

	payload := map[string]interface{}{
		"name":  "report",
		"count": float64(3),
		"ok":    true,
		"none":  nil,
		"link":  "http://db.internal:5432/r/1",
		"items": []interface{}{
			"https://localhost/x",
			map[string]interface{}{"href": "http://svc:9000/obj"},
			float64(7),
		},
	}

	got := r.Rewrite(payload)
	want := map[string]interface{}{
		"name":  "report",
		"count": float64(3),
		"ok":    true,
		"none":  nil,
		"link":  "http://gateway.example.com:8080/r/1",
		"items": []interface{}{
			"http://localhost/x",
			map[string]interface{}{"href": "http://gateway.example.com:8080/obj"},
			float64(7),
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rewrite mismatch:\ngot  %#v\nwant %#v", got, want)
	}

	// Input containers are rebuilt, not mutated.
	if payload["link"] != "http://db.internal:5432/r/1" {
		t.Error("Rewrite mutated its input")
	}
}

func TestRewriteBothRulesWhenGatewayIsPrivate(t *testing.T) {
	// A gateway bound to a private address composes both rules: the port
	// rewrite lands on a private host, so https downgrades too.
	r := New("192.168.0.10", 8080, []int{9000})
	got := r.RewriteURL("https://minio.internal:9000/objects")
	if got != "http://192.168.0.10:8080/objects" {
		t.Errorf("got %q", got)
	}
}

func TestRewriteRelationalRowSet(t *testing.T) {
	r := testRewriter()

	rows := []map[string]interface{}{
		{"id": int64(1), "url": "http://minio.internal:9000/bucket/key"},
		{"id": int64(2), "url": "https://api.example.com/files/2"},
	}

	got, ok := r.Rewrite(rows).([]map[string]interface{})
	if !ok {
		t.Fatalf("Rewrite changed the row-set shape: %T", r.Rewrite(rows))
	}
	if got[0]["url"] != "http://gateway.example.com:8080/bucket/key" {
		t.Errorf("internal url not rewritten: got %q", got[0]["url"])
	}
	if got[1]["url"] != "https://api.example.com/files/2" {
		t.Errorf("public url changed: got %q", got[1]["url"])
	}
	if got[0]["id"] != int64(1) {
		t.Errorf("non-string column changed: got %#v", got[0]["id"])
	}
	if rows[0]["url"] != "http://minio.internal:9000/bucket/key" {
		t.Error("Rewrite mutated its input rows")
	}
}

func TestRewriteDocumentRowSet(t *testing.T) {
	r := testRewriter()

	docs := []bson.M{
		{
			"name": "invoice",
			"link": "http://db.internal:27017/gridfs/abc",
			"attachments": bson.A{
				bson.M{"href": "https://localhost/att/1"},
				"plain string",
			},
		},
	}

	got, ok := r.Rewrite(docs).([]map[string]interface{})
	if !ok {
		t.Fatalf("Rewrite returned %T", r.Rewrite(docs))
	}
	if got[0]["link"] != "http://gateway.example.com:8080/gridfs/abc" {
		t.Errorf("document link not rewritten: got %q", got[0]["link"])
	}
	atts, ok := got[0]["attachments"].([]interface{})
	if !ok {
		t.Fatalf("attachments shape: %T", got[0]["attachments"])
	}
	first, ok := atts[0].(map[string]interface{})
	if !ok {
		t.Fatalf("nested document shape: %T", atts[0])
	}
	if first["href"] != "http://localhost/att/1" {
		t.Errorf("nested href not rewritten: got %q", first["href"])
	}
	if atts[1] != "plain string" {
		t.Errorf("non-URL string changed: got %q", atts[1])
	}
}

func TestRewriteIdempotent(t *testing.T) {
	r := testRewriter()

	payloads := []interface{}{
		"http://db.internal:5432/a",
		"https://localhost:9000/b",
		map[string]interface{}{
			"links": []interface{}{"https://10.0.0.8:27017/c", "https://api.example.com/d"},
		},
	}
	for _, p := range payloads {
		once := r.Rewrite(p)
		twice := r.Rewrite(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("not idempotent for %#v:\nonce  %#v\ntwice %#v", p, once, twice)
		}
	}
}

func TestRewriteWithoutProxyPort(t *testing.T) {
	r := New("gateway.example.com", 0, []int{9000})
	got := r.RewriteURL("http://svc:9000/x")
	if got != "http://gateway.example.com/x" {
		t.Errorf("got %q", got)
	}
}
