package s3

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pilosa/erpdk/test"
)

// fakeS3 serves a fixed set of objects, two per listing page.
type fakeS3 struct {
	s3iface.S3API
	objects map[string]string
}

func (f *fakeS3) keys(prefix string) []string {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) ListObjectsPages(in *s3.ListObjectsInput, fn func(*s3.ListObjectsOutput, bool) bool) error {
	keys := f.keys(aws.StringValue(in.Prefix))
	for i := 0; i < len(keys); i += 2 {
		page := &s3.ListObjectsOutput{}
		for _, k := range keys[i:min(i+2, len(keys))] {
			page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
		}
		if !fn(page, i+2 >= len(keys)) {
			break
		}
	}
	return nil
}

func (f *fakeS3) GetObject(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	return f.GetObjectWithContext(context.Background(), in)
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: ioutil.NopCloser(strings.NewReader(body))}, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type memCheckpointer struct {
	mu   sync.Mutex
	done map[string]bool
}

func (m *memCheckpointer) Done(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done[name], nil
}

func (m *memCheckpointer) MarkDone(names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.done[n] = true
	}
	return nil
}

func newFake() *fakeS3 {
	return &fakeS3{objects: map[string]string{
		"truthset/":                "",
		"truthset/part-00000.json": `{"DATA_SOURCE":"CUSTOMERS","RECORD_ID":"1"}` + "\n" + `{"DATA_SOURCE":"CUSTOMERS","RECORD_ID":"2"}`,
		"truthset/part-00001.csv":  "DATA_SOURCE,RECORD_ID\nWATCHLIST,3\n",
		"truthset/part-00002.json": `{"DATA_SOURCE":"REFERENCE","RECORD_ID":"4"}`,
		"other/ignored-00000.json": `{"RECORD_ID":"x"}`,
	}}
}

func TestSource(t *testing.T) {
	cp := &memCheckpointer{done: map[string]bool{"s3://bkt/truthset/part-00002.json": true}}
	src, err := NewSource(OptSrcBucket("bkt"), OptSrcPrefix("truthset/"), OptSrcClient(newFake()), OptSrcCheckpointer(cp))
	test.ErrNil(t, err, "NewSource")

	var ids []string
	for {
		batch, err := src.NextBatch(context.Background())
		if err == io.EOF {
			break
		}
		test.ErrNil(t, err, "NextBatch")
		for _, rec := range batch.Records() {
			ids = append(ids, rec.DataSource()+"/"+rec.RecordID())
		}
		test.ErrNil(t, batch.Commit(), "Commit")
	}
	test.MustBe(t, []string{"CUSTOMERS/1", "CUSTOMERS/2", "WATCHLIST/3"}, ids)
	for _, k := range []string{"truthset/part-00000.json", "truthset/part-00001.csv"} {
		if !cp.done["s3://bkt/"+k] {
			t.Fatalf("%s not checkpointed", k)
		}
	}
}

func TestDownload(t *testing.T) {
	buf := &bytes.Buffer{}
	n, err := Download(context.Background(), newFake(), "bkt", "truthset/part-00001.csv", buf)
	test.ErrNil(t, err, "Download")
	test.MustBe(t, int64(buf.Len()), n)
	test.MustBe(t, "DATA_SOURCE,RECORD_ID\nWATCHLIST,3\n", buf.String())

	if _, err := Download(context.Background(), newFake(), "bkt", "missing", buf); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		url    string
		bucket string
		key    string
		err    bool
	}{
		{url: "s3://bkt/a/b.json", bucket: "bkt", key: "a/b.json"},
		{url: "s3://bkt/", err: true},
		{url: "s3://bkt", err: true},
		{url: "https://bkt/a", err: true},
	}
	for _, tc := range tests {
		bucket, key, err := ParseURL(tc.url)
		if tc.err != (err != nil) {
			t.Fatalf("%s: unexpected err %v", tc.url, err)
		}
		if bucket != tc.bucket || key != tc.key {
			t.Fatalf("%s: got %s %s", tc.url, bucket, key)
		}
	}
}
