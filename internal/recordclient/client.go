// Package recordclient 记录服务的 HTTP 客户端，供结算协调器与 betctl 使用。
// 写接口对重复提交（409）视为成功，因此 outbox 重放是安全的。
package recordclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"PoolBet/internal/config"
	"PoolBet/internal/model"

	"github.com/sirupsen/logrus"
)

// WalletHeader 写接口的归属校验头
const WalletHeader = "X-Wallet-Address"

// BetRecord POST /api/bets
type BetRecord struct {
	MarketID           string           `json:"marketId"`
	UserAddress        string           `json:"userAddress"`
	Prediction         model.Prediction `json:"prediction"`
	Amount             string           `json:"amount"`
	TransactionHash    string           `json:"transactionHash"`
	ChainID            int64            `json:"chainId"`
	TaxTransactionHash string           `json:"taxTransactionHash,omitempty"`
}

// TransactionRecord POST /api/transactions
type TransactionRecord struct {
	UserAddress     string                `json:"userAddress"`
	Type            model.TransactionType `json:"type"`
	TransactionHash string                `json:"transactionHash"`
	ChainID         int64                 `json:"chainId"`
	Value           string                `json:"value,omitempty"`
	Metadata        json.RawMessage       `json:"metadata,omitempty"`
}

// RefundRecord POST /api/bets/refund
type RefundRecord struct {
	TaxTransactionHash string           `json:"taxTransactionHash"`
	MarketID           string           `json:"marketId"`
	UserAddress        string           `json:"userAddress"`
	Prediction         model.Prediction `json:"prediction"`
	ChainID            int64            `json:"chainId"`
}

// PendingRefund GET /api/refunds 的单条记录
type PendingRefund struct {
	model.Bet
	RefundAmount string `json:"refundAmount"`
}

// StatusError 服务端返回的非 2xx 响应
type StatusError struct {
	StatusCode  int
	Message     string
	Remediation string
}

func (e *StatusError) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("record service %d: %s (%s)", e.StatusCode, e.Message, e.Remediation)
	}
	return fmt.Sprintf("record service %d: %s", e.StatusCode, e.Message)
}

// IsPermanent 重放也不会成功的错误：4xx（超时、限流、提示 retry 的验证失败除外）
func IsPermanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.StatusCode < 400 || se.StatusCode >= 500 {
		return false
	}
	switch se.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return se.Remediation != "retry"
}

// Client 记录服务客户端
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

// New baseURL 形如 http://127.0.0.1:8080
func New(cfg config.ClientConfig, logger *logrus.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.RecordServiceURL); err != nil {
		return nil, fmt.Errorf("client.record_service_url 无效: %w", err)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.RecordServiceURL, "/"),
		http:    newHTTPClient(cfg, logger),
		logger:  logger,
	}, nil
}

// RecordBet 写入下注记录；已存在视为成功
func (c *Client) RecordBet(ctx context.Context, r BetRecord) error {
	return c.write(ctx, "/api/bets", r.UserAddress, r)
}

// RecordTransaction 写入交易记录；已存在视为成功
func (c *Client) RecordTransaction(ctx context.Context, r TransactionRecord) error {
	return c.write(ctx, "/api/transactions", r.UserAddress, r)
}

// MarkForRefund 写入待退款记录；已存在视为成功
func (c *Client) MarkForRefund(ctx context.Context, r RefundRecord) error {
	return c.write(ctx, "/api/bets/refund", r.UserAddress, r)
}

// ListBets 用户下注历史（新的在前），按 nextOffset 翻页直到取完
func (c *Client) ListBets(ctx context.Context, userAddress string) ([]model.Bet, error) {
	var all []model.Bet
	offset := 0
	for {
		page, err := c.listBetsPage(ctx, userAddress, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Bets...)
		if !page.HasMore || page.NextOffset <= offset {
			return all, nil
		}
		offset = page.NextOffset
	}
}

type betPage struct {
	Bets       []model.Bet `json:"bets"`
	HasMore    bool        `json:"hasMore"`
	NextOffset int         `json:"nextOffset"`
}

func (c *Client) listBetsPage(ctx context.Context, userAddress string, offset int) (*betPage, error) {
	u := c.baseURL + "/api/bets/" + url.PathEscape(userAddress)
	if offset > 0 {
		u += "?offset=" + strconv.Itoa(offset)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list bets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeStatusError(resp)
	}
	var out betPage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode bets: %w", err)
	}
	return &out, nil
}

// ListRefunds 待退款记录（旧的在前）
func (c *Client) ListRefunds(ctx context.Context, wallet string, limit int) ([]PendingRefund, error) {
	u := c.baseURL + "/api/refunds"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(WalletHeader, wallet)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeStatusError(resp)
	}
	var out struct {
		Refunds []PendingRefund `json:"refunds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode refunds: %w", err)
	}
	return out.Refunds, nil
}

// CompleteRefund 登记退税交易。与写接口不同，409 原样返回
func (c *Client) CompleteRefund(ctx context.Context, wallet, betID, refundTxHash string) (*model.Bet, error) {
	raw, err := json.Marshal(map[string]string{"refundTransactionHash": refundTxHash})
	if err != nil {
		return nil, err
	}
	path := "/api/bets/" + url.PathEscape(betID) + "/refund"
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(WalletHeader, wallet)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PATCH %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeStatusError(resp)
	}
	var bet model.Bet
	if err := json.NewDecoder(resp.Body).Decode(&bet); err != nil {
		return nil, fmt.Errorf("decode bet: %w", err)
	}
	return &bet, nil
}

func (c *Client) write(ctx context.Context, path, wallet string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(WalletHeader, wallet)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		c.logger.WithField("path", path).Debug("记录已存在，按成功处理")
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	default:
		return decodeStatusError(resp)
	}
}

func decodeStatusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	var body struct {
		Error       string `json:"error"`
		Remediation string `json:"remediation"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		se.Message = body.Error
		se.Remediation = body.Remediation
	} else {
		se.Message = strings.TrimSpace(string(raw))
		if se.Message == "" {
			se.Message = http.StatusText(resp.StatusCode)
		}
	}
	return se
}
