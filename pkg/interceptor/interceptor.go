// Package interceptor composes onto an outbound HTTP client as a
// transparent RoundTripper middleware. Every transaction passes through
// the filtering pipeline; an admitted, not-yet-seen subset has its
// response body teed to the Traffic Inspector while it streams to the
// host, followed by a metadata POST carrying the finalized body hash.
//
// The host never observes the mirror: requests and responses are
// forwarded byte-for-byte, mirror failures are logged and swallowed,
// and nothing is retried.
package interceptor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/platformatic/traffic-interceptor/internal/errx"
	"github.com/platformatic/traffic-interceptor/pkg/api"
	"github.com/platformatic/traffic-interceptor/pkg/bloom"
	"github.com/platformatic/traffic-interceptor/pkg/filter"
	"github.com/platformatic/traffic-interceptor/pkg/logging"
	"github.com/platformatic/traffic-interceptor/pkg/mirror"
)

// Interceptor owns the bloom filter, the mirror client and the compiled
// filter rules. One instance serves any number of concurrent
// transactions; its lifetime equals the wrapped client's.
type Interceptor struct {
	opts    *api.Options
	rules   *filter.Rules
	bloom   *bloom.Filter
	mirror  *mirror.Client
	logger  *slog.Logger
	emitter *logging.Emitter
	id      string

	transactions   atomic.Uint64
	admitted       atomic.Uint64
	deduplicated   atomic.Uint64
	bodiesMirrored atomic.Uint64
	metasSent      atomic.Uint64
	mirrorErrors   atomic.Uint64
}

// Stats is a point-in-time snapshot of an interceptor's counters.
type Stats struct {
	Transactions   uint64
	Admitted       uint64
	Deduplicated   uint64
	BodiesMirrored uint64
	MetasSent      uint64
	MirrorErrors   uint64
	// EstimatedFPP is the bloom filter's expected false-positive
	// probability at the current admitted count.
	EstimatedFPP float64
}

// New validates the options and builds an interceptor. Options are
// deep-copied; the caller's struct is never retained.
func New(opts *api.Options) (*Interceptor, error) {
	if opts == nil {
		return nil, errx.With(api.ErrInvalidOptions, ": options are required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	normalized := opts.WithDefaults()

	bloomFilter, err := bloom.New(normalized.BloomFilter.Size, normalized.BloomFilter.ErrorRate)
	if err != nil {
		return nil, errx.Wrap(api.ErrInvalidOptions, err)
	}

	mirrorClient, err := mirror.NewClient(normalized.TrafficInspector.URL, normalized.Logger)
	if err != nil {
		return nil, errx.Wrap(api.ErrInvalidOptions, err)
	}

	id := "ti-" + uuid.NewString()[:8]
	return &Interceptor{
		opts:    normalized,
		rules:   rulesFromOptions(normalized),
		bloom:   bloomFilter,
		mirror:  mirrorClient,
		logger:  normalized.Logger.With("component", "interceptor", "instance", id),
		emitter: normalized.Emitter,
		id:      id,
	}, nil
}

func rulesFromOptions(opts *api.Options) *filter.Rules {
	return filter.NewRules(filter.RulesConfig{
		MatchingDomains:         opts.MatchingDomains,
		SkippingRequestHeaders:  opts.SkippingRequestHeaders,
		SkippingResponseHeaders: opts.SkippingResponseHeaders,
		SkippingCookieNames:     opts.SkippingCookieSessionIDs,
		AcceptStatus:            opts.InterceptResponseStatusCodes,
		MaxResponseSize:         opts.MaxResponseSize,
	})
}

// InstanceID returns the identifier stamped onto logs and events.
func (i *Interceptor) InstanceID() string { return i.id }

// Stats returns a snapshot of the instance counters.
func (i *Interceptor) Stats() Stats {
	admitted := i.admitted.Load()
	return Stats{
		Transactions:   i.transactions.Load(),
		Admitted:       admitted,
		Deduplicated:   i.deduplicated.Load(),
		BodiesMirrored: i.bodiesMirrored.Load(),
		MetasSent:      i.metasSent.Load(),
		MirrorErrors:   i.mirrorErrors.Load(),
		EstimatedFPP:   i.bloom.EstimateFPP(int(admitted)),
	}
}

// Close releases pooled collector connections. In-flight transactions
// finish on their own.
func (i *Interceptor) Close() {
	i.mirror.Close()
}

// WrapTransport returns a RoundTripper that drives every transaction
// through the interceptor before delegating to base. A nil base means
// http.DefaultTransport.
func (i *Interceptor) WrapTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &roundTripper{interceptor: i, base: base}
}

type roundTripper struct {
	interceptor *Interceptor
	base        http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	i := rt.interceptor
	txn := i.onRequestStart(req)

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		// No mirror stream is open yet, but an admitted transaction
		// still needs its terminal event.
		i.onResponseError(txn, err)
		return resp, err
	}

	i.onResponseStart(txn, req, resp)
	return resp, nil
}

// onRequestStart populates the transaction, runs request admission and
// consults the bloom filter.
func (i *Interceptor) onRequestStart(req *http.Request) *transaction {
	i.transactions.Add(1)

	dispatchOrigin := req.URL.Scheme + "://" + req.URL.Host
	origin := filter.ExtractOrigin(dispatchOrigin, req.Header)

	var domain string
	if len(i.opts.MatchingDomains) > 0 {
		domain = filter.ExtractDomain(origin)
	}

	path := req.URL.EscapedPath()
	if path == "" {
		path = "/"
	}

	txn := &transaction{
		request: requestState{
			RequestInfo: filter.RequestInfo{
				Method:  req.Method,
				URL:     origin + path,
				Origin:  origin,
				Domain:  domain,
				Headers: req.Header,
			},
			Timestamp: time.Now().UnixMilli(),
		},
		labels:  i.opts.Labels,
		started: time.Now(),
	}

	if admitted, reason := i.admitRequest(&txn.request.RequestInfo); !admitted {
		txn.dropRequest()
		i.skip(txn, "request", reason)
		return txn
	}
	txn.interceptRequest = decidedYes
	i.admitted.Add(1)

	txn.request.Hash = hashIdentity(txn.request.URL)
	if i.bloom.TestAndAdd(txn.request.Hash) {
		txn.sendMeta = decidedYes
		txn.sendBody = decidedNo
		i.deduplicated.Add(1)
		i.skip(txn, "bloom filter", "duplicate request identity")
	} else {
		txn.sendMeta = decidedYes
		txn.sendBody = decidedYes
	}
	return txn
}

func (i *Interceptor) admitRequest(info *filter.RequestInfo) (bool, string) {
	if i.opts.InterceptRequest != nil {
		return i.opts.InterceptRequest(info), "rejected by override"
	}
	verdict := i.rules.AdmitRequest(info)
	return verdict.Admitted, verdict.Reason
}

func (i *Interceptor) admitResponse(info *filter.ResponseInfo) (bool, string) {
	if i.opts.InterceptResponse != nil {
		return i.opts.InterceptResponse(info), "rejected by override"
	}
	verdict := i.rules.AdmitResponse(info)
	return verdict.Admitted, verdict.Reason
}

// onResponseStart records the response descriptor, runs response
// admission, and opens the streaming mirror POST when the body is to be
// mirrored. The host's response is wrapped, never modified.
func (i *Interceptor) onResponseStart(txn *transaction, req *http.Request, resp *http.Response) {
	if !txn.interceptRequest.yes() {
		return
	}

	txn.response.StatusCode = resp.StatusCode
	txn.response.Headers = resp.Header

	// Protocol upgrades are forwarded untouched and never mirrored.
	if resp.StatusCode == http.StatusSwitchingProtocols {
		txn.dropResponse()
		return
	}

	if admitted, reason := i.admitResponse(&txn.response.ResponseInfo); !admitted {
		txn.dropResponse()
		i.skip(txn, "response", reason)
		return
	}
	txn.interceptResponse = decidedYes

	txn.hasher.Reset()
	if txn.sendBody.yes() {
		i.openMirrorBody(txn, req, resp)
	}

	if resp.Body != nil {
		resp.Body = &bodyTap{interceptor: i, txn: txn, body: resp.Body}
	}
}

// openMirrorBody starts the body POST. The pipe writer is fed from the
// host's body reads; the POST goroutine consumes the paired reader.
// Host abort cancels the POST promptly via the request context.
func (i *Interceptor) openMirrorBody(txn *transaction, req *http.Request, resp *http.Response) {
	pr, pw := newMirrorPipe()

	bodyCtx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	txn.pw = pw
	txn.cancelBody = cancel
	txn.stopAbort = context.AfterFunc(req.Context(), cancel)
	txn.bodyResult = result

	headers := i.mirrorBodyHeaders(txn, resp)
	path := i.opts.TrafficInspector.PathSendBody

	go func() {
		err := i.mirror.PostBody(bodyCtx, path, headers, pr)
		// Unblock any writer still teeing chunks.
		pr.CloseWithError(err)
		result <- err
	}()
}

func (i *Interceptor) mirrorBodyHeaders(txn *transaction, resp *http.Response) http.Header {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		contentLength = "0"
	}

	headers := http.Header{}
	headers.Set("Content-Type", contentType)
	headers.Set("Content-Length", contentLength)
	headers.Set("X-Labels", marshalJSON(txn.labels))
	headers.Set("X-Request-Data", marshalJSON(requestDescriptor{
		URL:     txn.request.URL,
		Headers: flattenHeader(txn.request.Headers),
	}))
	headers.Set("X-Response-Data", marshalJSON(responseDescriptor{
		Headers: flattenHeader(resp.Header),
	}))
	return headers
}

// onResponseData tees a forwarded chunk into the hash and, when open,
// the mirror body writer. A failed mirror write kills only the body
// mirror; hashing and the eventual meta POST continue.
func (i *Interceptor) onResponseData(txn *transaction, chunk []byte) {
	if !txn.sendMeta.yes() {
		return
	}
	txn.hasher.Update(chunk)
	txn.bodyBytes += int64(len(chunk))

	if txn.pw == nil {
		return
	}
	if _, err := txn.pw.Write(chunk); err != nil {
		// The POST goroutine holds the real delivery error; it is
		// reported once when the body result is collected.
		i.logger.Debug("mirror body writer closed mid-stream", "url", txn.request.URL, "error", err)
		txn.pw = nil
	}
}

// onResponseEnd closes the mirror body, awaits its delivery, then
// issues the meta POST. Runs on the host goroutine when the body hits
// EOF, so the host's final read waits for both deliveries. The only
// other point the host waits on the collector is the pipe write in
// onResponseData.
func (i *Interceptor) onResponseEnd(txn *transaction) {
	if txn.pw != nil {
		_ = txn.pw.Close()
		txn.pw = nil
	}
	if txn.bodyResult != nil {
		if err := <-txn.bodyResult; err != nil {
			i.mirrorFailed(txn, "body", err)
		} else {
			i.bodiesMirrored.Add(1)
			i.emit(logging.EventBodyMirrored,
				fmt.Sprintf("%s %s -> %d (%d bytes)", txn.request.Method, txn.request.URL,
					txn.response.StatusCode, txn.bodyBytes),
				nil,
				&logging.BodyMirroredData{
					URL:        txn.request.URL,
					StatusCode: txn.response.StatusCode,
					BodyBytes:  txn.bodyBytes,
					DurationMS: time.Since(txn.started).Milliseconds(),
				})
		}
		txn.releaseMirror()
	}

	if txn.sendMeta.yes() {
		i.sendMeta(txn)
	}
}

func (i *Interceptor) sendMeta(txn *transaction) {
	txn.response.Hash = txn.hasher.Digest()

	payload := metaPayload{
		Timestamp: txn.request.Timestamp,
		Request: metaRequest{
			URL:     txn.request.URL,
			Headers: flattenHeader(txn.request.Headers),
		},
		Response: metaResponse{
			Code:     txn.response.StatusCode,
			Headers:  flattenHeader(txn.response.Headers),
			BodyHash: strconv.FormatUint(txn.response.Hash, 10),
			BodySize: declaredBodySize(txn.response.Headers),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		i.mirrorFailed(txn, "meta", err)
		return
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Labels", marshalJSON(txn.labels))

	if err := i.mirror.PostMeta(context.Background(), i.opts.TrafficInspector.PathSendMeta, headers, body); err != nil {
		i.mirrorFailed(txn, "meta", err)
		return
	}
	i.metasSent.Add(1)
	i.emit(logging.EventMetaSent,
		fmt.Sprintf("meta for %s", txn.request.URL),
		nil,
		&logging.MetaSentData{
			URL:      txn.request.URL,
			Code:     txn.response.StatusCode,
			BodyHash: payload.Response.BodyHash,
			BodySize: payload.Response.BodySize,
		})
}

// onResponseError tears down the mirror stream without touching the
// host's error. Covers both mid-stream read failures and host aborts.
func (i *Interceptor) onResponseError(txn *transaction, cause error) {
	if txn.pw != nil {
		_ = txn.pw.CloseWithError(cause)
		txn.pw = nil
	}
	if txn.cancelBody != nil {
		txn.cancelBody()
	}
	if txn.bodyResult != nil {
		// The POST goroutine exits on the canceled context; collect its
		// result so nothing leaks, but never block the host on it.
		go func(result chan error) { <-result }(txn.bodyResult)
		txn.releaseMirror()
	}
	if txn.sendMeta.yes() || txn.sendBody.yes() {
		i.logger.Error("transaction torn down", "url", txn.request.URL, "error", cause)
		i.emit(logging.EventTransactionAborted,
			fmt.Sprintf("aborted: %s", txn.request.URL),
			nil,
			&logging.AbortedData{URL: txn.request.URL, Error: cause.Error()})
	}
	txn.sendMeta = decidedNo
	txn.sendBody = decidedNo
}

func (t *transaction) releaseMirror() {
	if t.stopAbort != nil {
		t.stopAbort()
		t.stopAbort = nil
	}
	if t.cancelBody != nil {
		t.cancelBody()
		t.cancelBody = nil
	}
	t.bodyResult = nil
}

func (i *Interceptor) mirrorFailed(txn *transaction, endpoint string, err error) {
	i.mirrorErrors.Add(1)
	i.logger.Error("mirror delivery failed",
		"endpoint", endpoint, "url", txn.request.URL, "error", err)
	i.emit(logging.EventMirrorError,
		fmt.Sprintf("%s delivery failed for %s", endpoint, txn.request.URL),
		[]string{endpoint},
		&logging.MirrorErrorData{
			URL:      txn.request.URL,
			Endpoint: endpoint,
			Error:    err.Error(),
		})
}

func (i *Interceptor) skip(txn *transaction, stage, reason string) {
	i.logger.Debug("skip by "+stage, "url", txn.request.URL, "reason", reason)
	i.emit(logging.EventTransactionSkipped,
		fmt.Sprintf("skip by %s: %s", stage, txn.request.URL),
		nil,
		&logging.SkipData{URL: txn.request.URL, Stage: stage, Reason: reason})
}

func (i *Interceptor) emit(eventType, summary string, tags []string, data interface{}) {
	if i.emitter == nil {
		return
	}
	_ = i.emitter.Emit(eventType, summary, "interceptor", tags, data)
}

func declaredBodySize(headers http.Header) int64 {
	size, err := strconv.ParseInt(headers.Get("Content-Length"), 10, 64)
	if err != nil || size < 0 {
		return 0
	}
	return size
}

func marshalJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
