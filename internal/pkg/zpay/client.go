package zpay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client 易支付（Z-Pay 兼容）网关客户端。商户密钥只在服务端持有。
type Client struct {
	gateway string
	pid     string
	pkey    string
	cid     string
	httpc   *http.Client
}

func NewClient(gateway, pid, pkey, cid string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		gateway: strings.TrimRight(gateway, "/"),
		pid:     pid,
		pkey:    pkey,
		cid:     cid,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// OrderRequest 发起支付所需的业务参数
type OrderRequest struct {
	PayType    string // alipay / wxpay
	OutTradeNo string
	Name       string
	Money      string // 两位小数字符串，如 "29.00"
	NotifyURL  string
	ReturnURL  string
	ClientIP   string // API 流程必填
	Param      string // 透传参数，回调原样带回
}

// APIOrderResult mapi.php 下单成功的返回
type APIOrderResult struct {
	TradeNo string `json:"trade_no"`
	PayURL  string `json:"payurl"`
	QRCode  string `json:"qrcode"`
	Img     string `json:"img"`
}

// OrderStatus api.php?act=order 的查询结果。Status 为 "1" 表示已支付。
type OrderStatus struct {
	Status  string `json:"status"`
	Money   string `json:"money"`
	Type    string `json:"type"`
	AddTime string `json:"addtime"`
	EndTime string `json:"endtime"`
	Param   string `json:"param"`
	TradeNo string `json:"trade_no"`
}

// GatewayError 网关明确拒绝（code != 1），携带网关返回的 msg。
type GatewayError struct {
	Code int
	Msg  string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway rejected: code=%d msg=%s", e.Code, e.Msg)
}

func (c *Client) baseParams(req *OrderRequest) map[string]string {
	params := map[string]string{
		"pid":          c.pid,
		"type":         req.PayType,
		"out_trade_no": req.OutTradeNo,
		"notify_url":   req.NotifyURL,
		"return_url":   req.ReturnURL,
		"name":         req.Name,
		"money":        req.Money,
		"param":        req.Param,
	}
	if c.cid != "" {
		params["cid"] = c.cid
	}
	return params
}

// SubmitURL 跳转流程：拼出带签名的 submit.php 地址，由客户端用浏览器打开。
func (c *Client) SubmitURL(req *OrderRequest) string {
	params := c.baseParams(req)
	sign := Sign(params, c.pkey)

	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	values.Set("sign", sign)
	values.Set("sign_type", "MD5")

	return c.gateway + "/submit.php?" + values.Encode()
}

// CreateOrder API 流程：服务端直连 mapi.php 下单，返回支付链接与二维码。
func (c *Client) CreateOrder(ctx context.Context, req *OrderRequest) (*APIOrderResult, error) {
	params := c.baseParams(req)
	params["clientip"] = req.ClientIP
	sign := Sign(params, c.pkey)

	form := url.Values{}
	for k, v := range params {
		if v != "" {
			form.Set(k, v)
		}
	}
	form.Set("sign", sign)
	form.Set("sign_type", "MD5")

	body, err := c.postForm(ctx, c.gateway+"/mapi.php", form)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Code    int    `json:"code"`
		Msg     string `json:"msg"`
		TradeNo string `json:"trade_no"`
		PayURL  string `json:"payurl"`
		QRCode  string `json:"qrcode"`
		Img     string `json:"img"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if resp.Code != 1 {
		return nil, &GatewayError{Code: resp.Code, Msg: resp.Msg}
	}

	return &APIOrderResult{
		TradeNo: resp.TradeNo,
		PayURL:  resp.PayURL,
		QRCode:  resp.QRCode,
		Img:     resp.Img,
	}, nil
}

// QueryOrder 用商户密钥直查网关订单状态。
func (c *Client) QueryOrder(ctx context.Context, outTradeNo string) (*OrderStatus, error) {
	values := url.Values{}
	values.Set("act", "order")
	values.Set("pid", c.pid)
	values.Set("key", c.pkey)
	values.Set("out_trade_no", outTradeNo)

	reqURL := c.gateway + "/api.php?" + values.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to query gateway: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Code    int             `json:"code"`
		Msg     string          `json:"msg"`
		Status  json.RawMessage `json:"status"` // 网关有时返回数字，有时返回字符串
		Money   string          `json:"money"`
		Type    string          `json:"type"`
		AddTime string          `json:"addtime"`
		EndTime string          `json:"endtime"`
		Param   string          `json:"param"`
		TradeNo string          `json:"trade_no"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if resp.Code != 1 {
		return nil, &GatewayError{Code: resp.Code, Msg: resp.Msg}
	}

	return &OrderStatus{
		Status:  normalizeStatus(resp.Status),
		Money:   resp.Money,
		Type:    resp.Type,
		AddTime: resp.AddTime,
		EndTime: resp.EndTime,
		Param:   resp.Param,
		TradeNo: resp.TradeNo,
	}, nil
}

func (c *Client) postForm(ctx context.Context, reqURL string, form url.Values) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call gateway: %w", err)
	}
	defer httpResp.Body.Close()

	return io.ReadAll(httpResp.Body)
}

func normalizeStatus(raw json.RawMessage) string {
	s := strings.Trim(string(raw), `"`)
	if s == "null" {
		return ""
	}
	return s
}
