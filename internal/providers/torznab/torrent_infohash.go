package torznab

import (
	"bytes"
	"fmt"

	"github.com/anacrolix/torrent/metainfo"
)

// InfoHashFromTorrent returns the lower-case hex SHA1 of the bencoded
// info dictionary of a .torrent file.
func InfoHashFromTorrent(payload []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("decode torrent: %w", err)
	}
	if len(mi.InfoBytes) == 0 {
		return "", fmt.Errorf("decode torrent: missing info dictionary")
	}
	return mi.HashInfoBytes().HexString(), nil
}
