package config

import (
	"fmt"
	"strings"
	"testing"

	"github.com/andreyvit/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `<?xml version="1.0" encoding="UTF-8"?>
<config xmlns="http://olivearchive.org/xmlns/vmnetx/vmnetfs">
  <image>
    <name>disk</name>
    <size>10737418240</size>
    <origin>
      <url>https://origin.example.org/pkg/disk</url>
      <offset>4096</offset>
      <validators>
        <last-modified>1400000000</last-modified>
        <etag>&#34;v1&#34;</etag>
      </validators>
      <credentials>
        <username>alice</username>
        <password>sekrit</password>
      </credentials>
      <cookies>
        <cookie>session=opaque; Domain=.example.org; Path=/</cookie>
      </cookies>
    </origin>
    <cache>
      <path>/var/tmp/vmnetfs/disk/131072</path>
      <chunk-size>131072</chunk-size>
    </cache>
    <fetch>
      <mode>demand</mode>
    </fetch>
  </image>
  <image>
    <name>memory</name>
    <size>1073741824</size>
    <origin>
      <url>https://origin.example.org/pkg/memory</url>
    </origin>
    <cache>
      <path>/var/tmp/vmnetfs/memory/131072</path>
      <chunk-size>131072</chunk-size>
    </cache>
    <fetch>
      <mode>stream</mode>
    </fetch>
  </image>
</config>
`

func TestParseSampleDocument(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	require.Nil(t, err)
	require.Len(t, doc.Images, 2)

	disk := doc.Images[0]
	assert.Equal(t, "disk", disk.Name)
	assert.Equal(t, uint64(10737418240), disk.Size)
	assert.Equal(t, "https://origin.example.org/pkg/disk", disk.Origin.URL)
	assert.Equal(t, uint64(4096), disk.Origin.Offset)
	require.NotNil(t, disk.Origin.Validators)
	assert.Equal(t, int64(1400000000), disk.Origin.Validators.LastModified)
	assert.Equal(t, `"v1"`, disk.Origin.Validators.ETag)
	require.NotNil(t, disk.Origin.Credentials)
	assert.Equal(t, "alice", disk.Origin.Credentials.Username)
	assert.Equal(t, "sekrit", disk.Origin.Credentials.Password)
	require.NotNil(t, disk.Origin.Cookies)
	require.Len(t, disk.Origin.Cookies.Cookie, 1)
	assert.Equal(t, "/var/tmp/vmnetfs/disk/131072", disk.Cache.Path)
	assert.Equal(t, uint32(131072), disk.Cache.ChunkSize)
	assert.Equal(t, "demand", disk.Fetch.Mode)

	memory := doc.Images[1]
	assert.Equal(t, "memory", memory.Name)
	assert.Nil(t, memory.Origin.Validators)
	assert.Nil(t, memory.Origin.Credentials)
	assert.Equal(t, "stream", memory.Fetch.Mode)
}

func TestReadFromFramesTheDocument(t *testing.T) {
	framed := fmt.Sprintf("%d\n%s", len(sampleDocument), sampleDocument)
	doc, err := ReadFrom(strings.NewReader(framed))
	require.Nil(t, err)
	assert.Len(t, doc.Images, 2)
}

func TestReadFromRejectsBadFraming(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"no length prefix", sampleDocument},
		{"negative length", "-4\nabcd"},
		{"zero length", "0\n"},
		{"oversized length", "99999999\nx"},
		{"truncated document", fmt.Sprintf("%d\n%s", len(sampleDocument), sampleDocument[:100])},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ReadFrom(strings.NewReader(c.input))
			assert.NotNil(t, err)
		})
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	image := func(name, url, path string, size uint64, chunkSize uint32) string {
		return fmt.Sprintf(`<image><name>%s</name><size>%d</size><origin><url>%s</url></origin><cache><path>%s</path><chunk-size>%d</chunk-size></cache></image>`,
			name, size, url, path, chunkSize)
	}
	wrap := func(images ...string) string {
		return `<config>` + strings.Join(images, "") + `</config>`
	}
	ok := image("disk", "http://x/y", "/tmp/c", 100, 10)
	cases := []struct {
		name  string
		input string
	}{
		{"not xml", "not xml at all"},
		{"no images", wrap()},
		{"empty name", wrap(image("", "http://x/y", "/tmp/c", 100, 10))},
		{"slash in name", wrap(image("a/b", "http://x/y", "/tmp/c", 100, 10))},
		{"duplicate names", wrap(ok, ok)},
		{"missing url", wrap(image("disk", "", "/tmp/c", 100, 10))},
		{"zero size", wrap(image("disk", "http://x/y", "/tmp/c", 0, 10))},
		{"missing cache path", wrap(image("disk", "http://x/y", "", 100, 10))},
		{"zero chunk size", wrap(image("disk", "http://x/y", "/tmp/c", 100, 0))},
		{"bad fetch mode", wrap(`<image><name>disk</name><size>100</size><origin><url>http://x/y</url></origin><cache><path>/tmp/c</path><chunk-size>10</chunk-size></cache><fetch><mode>eager</mode></fetch></image>`)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse([]byte(c.input))
			assert.NotNil(t, err)
		})
	}
}

func TestCensoredHidesSecrets(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	require.Nil(t, err)
	censored := doc.Censored()
	for _, secret := range []string{"sekrit", "opaque"} {
		if strings.Contains(censored, secret) {
			t.Errorf("censored config leaks %q:\n%s", secret, censored)
		}
	}
	assert.Contains(t, censored, "alice")
	assert.Contains(t, censored, "[censored]")
	// Censoring must not disturb the non-secret fields.
	recycled, err := Parse([]byte(strings.TrimPrefix(censored, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")))
	require.Nil(t, err)
	recycled.Images[0].Origin.Credentials = doc.Images[0].Origin.Credentials
	recycled.Images[0].Origin.Cookies = doc.Images[0].Origin.Cookies
	recycled.XMLName = doc.XMLName
	a := fmt.Sprintf("%+v", doc.Images[0].Cache)
	b := fmt.Sprintf("%+v", recycled.Images[0].Cache)
	if a != b {
		t.Error(diff.LineDiff(a, b))
	}
}
