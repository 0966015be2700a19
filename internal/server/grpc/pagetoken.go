package grpc

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/wire"
	"go.einride.tech/aip/pagination"
)

// listChecksum covers the request fields that must not change between
// pages of one listing.
func listChecksum(req *wire.ListRequest) uint32 {
	key := strings.Join([]string{req.Kind, req.Filter, req.OrderBy, strconv.FormatBool(req.WithDeleted)}, "\x00")
	return crc32.ChecksumIEEE([]byte(key))
}

// parsePageToken returns the offset a ListRequest continues from.
func parsePageToken(req *wire.ListRequest) (int, error) {
	if req.PageToken == "" {
		return 0, nil
	}
	var tok pagination.PageToken
	if err := pagination.DecodePageTokenStruct(req.PageToken, &tok); err != nil {
		return 0, fmt.Errorf("%w: page token: %w", common.ErrInvalidFilter, err)
	}
	if tok.RequestChecksum != listChecksum(req) {
		return 0, fmt.Errorf("%w: page token does not belong to this query", common.ErrInvalidFilter)
	}
	if tok.Offset < 0 {
		return 0, fmt.Errorf("%w: page token offset", common.ErrInvalidFilter)
	}
	return int(tok.Offset), nil
}

func nextPageToken(req *wire.ListRequest, offset int) string {
	return pagination.EncodePageTokenStruct(&pagination.PageToken{
		Offset:          int64(offset),
		RequestChecksum: listChecksum(req),
	})
}
