package capsrv

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/valyala/fasthttp"

	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/index"
	"github.com/outbackcdx/cdxserver/record"
	"github.com/outbackcdx/cdxserver/surt"
)

// handleIngest implements POST /<coll>: bulk CDX text ingest (spec §6.1,
// §6.2). badLines=error aborts the whole batch on the first malformed
// line, reporting it; badLines=skip logs and continues.
func (s *Server) handleIngest(ctx *fasthttp.RequestCtx, coll string) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	ix, err := s.DataStore.GetIndex(coll, true)
	if err != nil {
		return err
	}

	badLines := string(ctx.QueryArgs().Peek("badLines"))
	recanonicalize := string(ctx.QueryArgs().Peek("recanonicalize")) == "1"

	b := ix.BeginUpdate()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(ctx.PostBody()))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if err := ingestLine(b, line, recanonicalize, s.SurtOpts); err != nil {
			if badLines == "skip" {
				glog.Warningf("capsrv: ingest %s: skipping bad line %q: %v", coll, line, err)
				continue
			}
			return cmn.BadRequestf("bad CDX line %q: %v", line, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return cmn.WrapError(cmn.KindBadRequest, err, "reading ingest body")
	}

	seq, err := b.Commit()
	if err != nil {
		return err
	}
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.WriteString("ingested " + strconv.Itoa(n) + " lines, sequence " + strconv.FormatUint(seq, 10) + "\n")
	return nil
}

// ingestLine parses one CDX ingest line per spec §6.2 and stages it onto b.
func ingestLine(b *index.Batch, line string, recanonicalize bool, opts surt.Options) error {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, " CDX") {
		return nil // header line, skipped
	}
	if strings.HasPrefix(line, "@alias ") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return cmn.BadRequestf("malformed @alias line: want 3 fields, got %d", len(fields))
		}
		aliasSURT, err := surt.Canonicalize(fields[1], opts)
		if err != nil {
			return err
		}
		targetSURT, err := surt.Canonicalize(fields[2], opts)
		if err != nil {
			return err
		}
		return b.PutAlias(&record.Alias{AliasSURT: aliasSURT, TargetSURT: targetSURT})
	}

	fields := strings.Fields(line)
	c, err := captureFromCDXFields(fields, recanonicalize, opts)
	if err != nil {
		return err
	}
	return b.PutCapture(c)
}

// handleDelete implements POST /<coll>/delete: bulk delete by the same
// CDX line grammar ingest uses, identifying each capture by its primary
// key (urlkey, timestamp, filename, offset) rather than inserting it
// (spec §6.1).
func (s *Server) handleDelete(ctx *fasthttp.RequestCtx, coll string) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	ix, err := s.DataStore.GetIndex(coll, false)
	if err != nil {
		return err
	}

	recanonicalize := string(ctx.QueryArgs().Peek("recanonicalize")) == "1"

	b := ix.BeginUpdate()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(ctx.PostBody()))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, " CDX") {
			continue
		}
		fields := strings.Fields(line)
		c, err := captureFromCDXFields(fields, recanonicalize, s.SurtOpts)
		if err != nil {
			return cmn.BadRequestf("bad CDX line %q: %v", line, err)
		}
		if err := b.DeleteCapture(c.URLKey, c.Timestamp, c.Filename, c.Offset); err != nil {
			return err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return cmn.WrapError(cmn.KindBadRequest, err, "reading delete body")
	}

	seq, err := b.Commit()
	if err != nil {
		return err
	}
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.WriteString("deleted " + strconv.Itoa(n) + " lines, sequence " + strconv.FormatUint(seq, 10) + "\n")
	return nil
}

func unhyphen(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func atoiOr0(s string) int {
	n, _ := strconv.Atoi(unhyphen(s))
	return n
}

func atou64Or0(s string) uint64 {
	n, _ := strconv.ParseUint(unhyphen(s), 10, 64)
	return n
}

// captureFromCDXFields builds a Capture from a space-split CDX line,
// recognizing the 9-, 11-, and 14-field (CDX14) schemas by field count
// (spec §6.2, SPEC_FULL §4): 11 fields is record.DefaultFields' own
// order, 9 drops robotflags/length, 14 appends the CDX14 variant trio.
func captureFromCDXFields(fields []string, recanonicalize bool, opts surt.Options) (*record.Capture, error) {
	var urlkey, tsStr, original, mimetype, statusStr, digest, redirect, robotflags, lengthStr, offsetStr, filename string
	var hasVariant bool
	var origLengthStr, origOffsetStr, origFilename string

	switch len(fields) {
	case 9:
		urlkey, tsStr, original, mimetype, statusStr, digest, redirect, offsetStr, filename =
			fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6], fields[7], fields[8]
	case 11:
		urlkey, tsStr, original, mimetype, statusStr, digest, redirect, robotflags, lengthStr, offsetStr, filename =
			fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6], fields[7], fields[8], fields[9], fields[10]
	case 14:
		urlkey, tsStr, original, mimetype, statusStr, digest, redirect, robotflags, lengthStr, offsetStr, filename =
			fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6], fields[7], fields[8], fields[9], fields[10]
		hasVariant = true
		origLengthStr, origOffsetStr, origFilename = fields[11], fields[12], fields[13]
	default:
		return nil, cmn.BadRequestf("unrecognized CDX field count %d", len(fields))
	}

	ts, err := surt.ParseTimestamp14(tsStr)
	if err != nil {
		return nil, err
	}

	key := unhyphen(urlkey)
	if recanonicalize {
		key, err = surt.Canonicalize(unhyphen(original), opts)
		if err != nil {
			return nil, err
		}
	}

	c := &record.Capture{
		URLKey:      key,
		Timestamp:   ts,
		OriginalURL: unhyphen(original),
		MimeType:    unhyphen(mimetype),
		Status:      atoiOr0(statusStr),
		Digest:      unhyphen(digest),
		RedirectURL: unhyphen(redirect),
		RobotFlags:  unhyphen(robotflags),
		Length:      atou64Or0(lengthStr),
		Offset:      atou64Or0(offsetStr),
		Filename:    unhyphen(filename),
	}
	if hasVariant {
		c.HasOriginalVariant = true
		c.OriginalLength = atou64Or0(origLengthStr)
		c.OriginalOffset = atou64Or0(origOffsetStr)
		c.OriginalFilename = unhyphen(origFilename)
	}
	return c, nil
}
