package approval

import (
	"strings"
	"testing"
	"time"
)

// fakeRow feeds scanItem fixed column values without a database.
type fakeRow struct {
	details     []byte
	attachments []byte
}

func (r fakeRow) Scan(dest ...any) error {
	*dest[0].(*string) = "item-1"
	*dest[1].(*string) = "submission"
	*dest[2].(*string) = "tenant-1"
	*(dest[4].(*[]byte)) = r.details
	*(dest[7].(*[]byte)) = r.attachments
	*dest[8].(*time.Time) = time.Now().UTC()
	return nil
}

func TestScanItemDecodesJSONColumns(t *testing.T) {
	item, err := scanItem(fakeRow{
		details:     []byte(`{"position":"Engineer"}`),
		attachments: []byte(`[{"id":"att-1","original_filename":"transcript.pdf"}]`),
	})
	if err != nil {
		t.Fatalf("scanItem() error = %v", err)
	}
	if item.FormDetails["position"] != "Engineer" {
		t.Errorf("form details = %+v, want position Engineer", item.FormDetails)
	}
	if len(item.Attachments) != 1 || item.Attachments[0].ID != "att-1" {
		t.Errorf("attachments = %+v, want single att-1", item.Attachments)
	}
}

func TestScanItemRejectsMalformedJSON(t *testing.T) {
	_, err := scanItem(fakeRow{
		details:     []byte(`{"position":"Engineer"}`),
		attachments: []byte(`{not json`),
	})
	if err == nil {
		t.Fatal("scanItem() with malformed attachments succeeded, want error")
	}
	if !strings.Contains(err.Error(), "unmarshal attachments") {
		t.Errorf("error = %v, want attachments unmarshal failure", err)
	}

	_, err = scanItem(fakeRow{
		details:     []byte(`{not json`),
		attachments: []byte(`[]`),
	})
	if err == nil {
		t.Fatal("scanItem() with malformed form details succeeded, want error")
	}
	if !strings.Contains(err.Error(), "unmarshal form details") {
		t.Errorf("error = %v, want form details unmarshal failure", err)
	}
}
