package apiclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/marmos91/dicomul/pkg/adapter/dicom"
	"github.com/marmos91/dicomul/pkg/audit"
)

// ActiveAssociations lists the associations running on the acceptor.
func (c *Client) ActiveAssociations(ctx context.Context) ([]dicom.AssociationInfo, error) {
	var list []dicom.AssociationInfo
	if err := c.get(ctx, "/api/v1/associations", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// RecentAssociations lists finished associations from the audit log, most
// recent first. limit <= 0 uses the server default.
func (c *Client) RecentAssociations(ctx context.Context, limit int) ([]audit.Record, error) {
	path := "/api/v1/associations/recent"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var records []audit.Record
	if err := c.get(ctx, path, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Association returns one finished association.
func (c *Client) Association(ctx context.Context, id string) (*audit.Record, error) {
	var rec audit.Record
	if err := c.get(ctx, "/api/v1/associations/"+url.PathEscape(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
