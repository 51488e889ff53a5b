// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package tracker

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/SkyPlay-Code/btswarm/bencode"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	AnnounceURL    string        `yaml:"announce_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxElapsedTime time.Duration `yaml:"max_elapsed_time"`
}

func (c *HTTPConfig) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxElapsedTime == 0 {
		c.MaxElapsedTime = 30 * time.Second
	}
}

// HTTPClient announces over HTTP to a single tracker, retrying transient
// network errors with an exponential backoff.
type HTTPClient struct {
	config HTTPConfig
	hc     *http.Client
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(config HTTPConfig) *HTTPClient {
	config.applyDefaults()
	return &HTTPClient{
		config: config,
		hc:     &http.Client{Timeout: config.RequestTimeout},
	}
}

// announceReply is the bencoded tracker response body, per the tracker's
// compact=1 contract: a concatenation of 6-byte peer records (4-byte IPv4
// address, 2-byte big-endian port) rather than a list of dictionaries.
type announceReply struct {
	Interval int               `bencode:"interval"`
	Peers    bencode.RawMessage `bencode:"peers"`
}

// Announce sends req to the tracker and parses its compact peer list.
func (c *HTTPClient) Announce(ctx context.Context, req AnnounceRequest) (AnnounceResponse, error) {
	var resp AnnounceResponse
	operation := func() error {
		body, err := c.announceOnce(ctx, req)
		if err != nil {
			return err
		}
		resp = body
		return nil
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.1,
		Multiplier:          2,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      c.config.MaxElapsedTime,
		Clock:               backoff.SystemClock,
	}
	if err := backoff.Retry(operation, b); err != nil {
		return AnnounceResponse{}, err
	}
	return resp, nil
}

func (c *HTTPClient) announceOnce(ctx context.Context, req AnnounceRequest) (AnnounceResponse, error) {
	v := url.Values{}
	v.Set("info_hash", string(req.InfoHash.Bytes()))
	v.Set("peer_id", string(req.PeerID.Bytes()))
	v.Set("port", strconv.Itoa(req.Port))
	v.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	v.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	v.Set("left", strconv.FormatInt(req.Left, 10))
	v.Set("compact", "1")
	if req.Event != EventNone {
		v.Set("event", string(req.Event))
	}
	if req.NumWant > 0 {
		v.Set("numwant", strconv.Itoa(req.NumWant))
	}

	u := c.config.AnnounceURL + "?" + v.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return AnnounceResponse{}, err
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return AnnounceResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AnnounceResponse{}, fmt.Errorf("tracker: unexpected status %d", resp.StatusCode)
	}

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return AnnounceResponse{}, fmt.Errorf("tracker: read body: %s", err)
	}

	var reply announceReply
	if err := bencode.Unmarshal(raw, &reply); err != nil {
		return AnnounceResponse{}, fmt.Errorf("tracker: unmarshal reply: %s", err)
	}

	peers, err := decodeCompactPeers([]byte(reply.Peers))
	if err != nil {
		return AnnounceResponse{}, err
	}
	return AnnounceResponse{Interval: reply.Interval, Peers: peers}, nil
}

// decodeCompactPeers decodes a "compact=1" peer list: a concatenation of
// 6-byte records, each a 4-byte IPv4 address followed by a 2-byte
// big-endian port.
func decodeCompactPeers(raw []byte) ([]net.TCPAddr, error) {
	const recordLen = 6
	if len(raw)%recordLen != 0 {
		return nil, fmt.Errorf("tracker: compact peer list length %d not a multiple of %d", len(raw), recordLen)
	}
	peers := make([]net.TCPAddr, 0, len(raw)/recordLen)
	for i := 0; i < len(raw); i += recordLen {
		ip := net.IPv4(raw[i], raw[i+1], raw[i+2], raw[i+3])
		port := int(raw[i+4])<<8 | int(raw[i+5])
		peers = append(peers, net.TCPAddr{IP: ip, Port: port})
	}
	return peers, nil
}
