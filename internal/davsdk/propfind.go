package davsdk

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:resourcetype/>
    <d:getetag/>
    <d:getcontentlength/>
    <d:getlastmodified/>
    <d:getcontenttype/>
  </d:prop>
</d:propfind>`

type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href      string        `xml:"DAV: href"`
	Propstats []davPropstat `xml:"DAV: propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"DAV: prop"`
	Status string  `xml:"DAV: status"`
}

type davProp struct {
	ResourceType  davResourceType `xml:"DAV: resourcetype"`
	ETag          string          `xml:"DAV: getetag"`
	ContentLength string          `xml:"DAV: getcontentlength"`
	LastModified  string          `xml:"DAV: getlastmodified"`
	ContentType   string          `xml:"DAV: getcontenttype"`
}

type davResourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// parseMultistatus decodes a PROPFIND response body. The entry describing
// dirPath itself is returned separately from its children.
func parseMultistatus(body []byte, dirPath string) (self *Entry, children []*Entry, err error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidListing, err)
	}

	dirPath = cleanHref(dirPath)
	for _, resp := range ms.Responses {
		entry, err := resp.entry()
		if err != nil {
			return nil, nil, err
		}
		if entry == nil {
			continue
		}
		if entry.Path == dirPath {
			self = entry
			continue
		}
		children = append(children, entry)
	}
	return self, children, nil
}

func (r *davResponse) entry() (*Entry, error) {
	u, err := url.Parse(strings.TrimSpace(r.Href))
	if err != nil {
		return nil, fmt.Errorf("%w: bad href %q: %w", ErrInvalidListing, r.Href, err)
	}

	for _, ps := range r.Propstats {
		if !propstatOK(ps.Status) {
			continue
		}

		entry := &Entry{
			Path:        cleanHref(u.Path),
			IsDir:       ps.Prop.ResourceType.Collection != nil,
			ETag:        NormalizeETag(strings.TrimSpace(ps.Prop.ETag)),
			ContentType: strings.TrimSpace(ps.Prop.ContentType),
		}
		if cl := strings.TrimSpace(ps.Prop.ContentLength); cl != "" {
			if size, err := strconv.ParseInt(cl, 10, 64); err == nil {
				entry.Size = size
			}
		}
		if lm := strings.TrimSpace(ps.Prop.LastModified); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				entry.LastModified = t
			}
		}
		return entry, nil
	}

	// no successful propstat, the server refused to describe this resource
	return nil, nil
}

// propstatOK reports whether a status line like "HTTP/1.1 200 OK" is a 2xx.
func propstatOK(status string) bool {
	fields := strings.Fields(status)
	if len(fields) < 2 {
		return false
	}
	code, err := strconv.Atoi(fields[1])
	return err == nil && code >= 200 && code < 300
}

func cleanHref(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}
