package cloudinary_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/IanNoble-Visium/ELI-sub001/internal/cloudinary"
)

// 1. Signature is stable under key insertion order and changes with secret
func TestSign(t *testing.T) {
	a := cloudinary.Sign(map[string]string{"timestamp": "1700000000", "public_id": "irex/evt-1/alarm_1700000000"}, "s3cret")
	b := cloudinary.Sign(map[string]string{"public_id": "irex/evt-1/alarm_1700000000", "timestamp": "1700000000"}, "s3cret")
	if a != b {
		t.Error("signature depends on map insertion order")
	}
	if len(a) != 40 {
		t.Errorf("not a SHA-1 hex digest: %q", a)
	}
	if c := cloudinary.Sign(map[string]string{"timestamp": "1700000000"}, "other"); c == a {
		t.Error("secret not folded into signature")
	}
}

// 2. Upload sends a signed multipart form and decodes the hosted URL
func TestUpload_Success(t *testing.T) {
	var gotPublicID, gotSig, gotTS, gotFile string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/demo/image/upload" {
			t.Errorf("wrong path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("not multipart: %v", err)
		}
		gotPublicID = r.FormValue("public_id")
		gotSig = r.FormValue("signature")
		gotTS = r.FormValue("timestamp")
		gotFile = r.FormValue("file")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"secure_url":"https://res.cloudinary.com/demo/` + gotPublicID + `.jpg","public_id":"` + gotPublicID + `","width":640,"height":480,"bytes":51200,"format":"jpg"}`))
	}))
	defer srv.Close()

	c := cloudinary.NewClient(cloudinary.Config{CloudName: "demo", APIKey: "key", APISecret: "s3cret"})
	c.BaseURL = srv.URL

	res := c.Upload(context.Background(), "aGVsbG8=", "evt-1", "ALARM")
	if !res.OK {
		t.Fatalf("upload not OK: %s", res.Err)
	}

	if !strings.HasPrefix(gotPublicID, "irex/evt-1/alarm_") {
		t.Errorf("public id scheme wrong: %q", gotPublicID)
	}
	if !strings.HasPrefix(gotFile, "data:image/jpeg;base64,") {
		t.Errorf("bare base64 not wrapped as data URI: %.40q", gotFile)
	}

	// The server can re-derive the signature from the signed params.
	want := cloudinary.Sign(map[string]string{"public_id": gotPublicID, "timestamp": gotTS}, "s3cret")
	if gotSig != want {
		t.Errorf("signature mismatch: got %s want %s", gotSig, want)
	}

	if res.URL == "" || res.Width != 640 || res.Format != "jpg" {
		t.Errorf("response not decoded: %+v", res)
	}
}

// 3. Data-URI input is passed through untouched
func TestUpload_DataURIPassthrough(t *testing.T) {
	var gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(10 << 20)
		gotFile = r.FormValue("file")
		w.Write([]byte(`{"secure_url":"https://res.cloudinary.com/x.png","public_id":"p"}`))
	}))
	defer srv.Close()

	c := cloudinary.NewClient(cloudinary.Config{CloudName: "demo", APIKey: "key", APISecret: "s"})
	c.BaseURL = srv.URL

	c.Upload(context.Background(), "data:image/png;base64,aGVsbG8=", "evt-1", "FRAME")
	if gotFile != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("data URI rewrapped: %.40q", gotFile)
	}
}

// 4. API rejection comes back as a structured failure, not an error
func TestUpload_APIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid Signature"}}`))
	}))
	defer srv.Close()

	c := cloudinary.NewClient(cloudinary.Config{CloudName: "demo", APIKey: "key", APISecret: "wrong"})
	c.BaseURL = srv.URL

	res := c.Upload(context.Background(), "aGVsbG8=", "evt-1", "ALARM")
	if res.OK {
		t.Fatal("rejected upload reported OK")
	}
	if !strings.Contains(res.Err, "Invalid Signature") {
		t.Errorf("API message lost: %q", res.Err)
	}
}

// 5. Unconfigured client degrades without touching the network
func TestUpload_Unconfigured(t *testing.T) {
	c := cloudinary.NewClient(cloudinary.Config{})
	if c.Enabled() {
		t.Fatal("empty config reported enabled")
	}
	res := c.Upload(context.Background(), "aGVsbG8=", "evt-1", "ALARM")
	if res.OK || !strings.Contains(res.Err, "not configured") {
		t.Errorf("unexpected result: %+v", res)
	}
}

// 6. Destroy treats ok and not-found as success
func TestDestroy(t *testing.T) {
	result := `{"result":"ok"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/demo/image/destroy" {
			t.Errorf("wrong path: %s", r.URL.Path)
		}
		w.Write([]byte(result))
	}))
	defer srv.Close()

	c := cloudinary.NewClient(cloudinary.Config{CloudName: "demo", APIKey: "key", APISecret: "s"})
	c.BaseURL = srv.URL

	if err := c.Destroy(context.Background(), "irex/evt-1/alarm_1"); err != nil {
		t.Errorf("destroy ok: %v", err)
	}

	result = `{"result":"not found"}`
	if err := c.Destroy(context.Background(), "irex/evt-1/gone"); err != nil {
		t.Errorf("destroy not-found: %v", err)
	}

	result = `{"result":"rate limited"}`
	if err := c.Destroy(context.Background(), "irex/evt-1/x"); err == nil {
		t.Error("unexpected success")
	}
}
