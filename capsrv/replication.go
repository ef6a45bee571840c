package capsrv

import (
	"encoding/base64"
	"strconv"

	"github.com/valyala/fasthttp"
)

const defaultChangesSizeBytes = 10 << 20 // spec §4.6 default 10 MiB

type changeEntryJSON struct {
	SequenceNumber string `json:"sequenceNumber"`
	WriteBatch     string `json:"writeBatch"`
}

// handleChanges implements GET /<coll>/changes?since=&size= (spec §4.6):
// the change-feed wire format, terminating the batch once cumulative
// base64 size reaches size bytes, but always after at least one record so
// an oversized single batch still makes forward progress.
func (s *Server) handleChanges(ctx *fasthttp.RequestCtx, coll string) error {
	if err := s.requireBearerToken(ctx); err != nil {
		return err
	}
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}

	since := uint64(queryInt(ctx, "since", 0))
	sizeLimit := queryInt(ctx, "size", defaultChangesSizeBytes)

	cursor, err := ix.GetUpdatesSince(since)
	if err != nil {
		return err
	}
	defer cursor.Close()

	var out []changeEntryJSON
	var cumulative int
	for {
		select {
		case <-ctx.Done():
			goto done
		default:
		}
		entry, ok := cursor.Next()
		if !ok {
			break
		}
		b64 := base64.StdEncoding.EncodeToString(entry.WriteBatch)
		out = append(out, changeEntryJSON{
			SequenceNumber: strconv.FormatUint(entry.SequenceNumber, 10),
			WriteBatch:     b64,
		})
		cumulative += len(b64)
		if cumulative >= sizeLimit {
			break
		}
	}
done:

	ctx.SetContentType("application/json; charset=utf-8")
	return jsonAPI.NewEncoder(ctx).Encode(out)
}

// handleSequence implements GET /<coll>/sequence.
func (s *Server) handleSequence(ctx *fasthttp.RequestCtx, coll string) error {
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.WriteString(strconv.FormatUint(ix.LatestSequenceNumber(), 10))
	return nil
}

// handleTruncateReplication implements POST /<coll>/truncate_replication.
func (s *Server) handleTruncateReplication(ctx *fasthttp.RequestCtx, coll string) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}
	if err := ix.FlushWAL(); err != nil {
		return err
	}
	ctx.SetStatusCode(204)
	return nil
}

// handleCompact implements POST /<coll>/compact.
func (s *Server) handleCompact(ctx *fasthttp.RequestCtx, coll string) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}
	scheduled := ix.CompactInBackground()
	ctx.SetContentType("application/json; charset=utf-8")
	return jsonAPI.NewEncoder(ctx).Encode(map[string]bool{"scheduled": scheduled})
}

// handleUpgrade implements POST /<coll>/upgrade.
func (s *Server) handleUpgrade(ctx *fasthttp.RequestCtx, coll string) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}
	scheduled := ix.UpgradeInBackground()
	ctx.SetContentType("application/json; charset=utf-8")
	return jsonAPI.NewEncoder(ctx).Encode(map[string]bool{"scheduled": scheduled})
}
