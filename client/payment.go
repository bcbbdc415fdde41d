package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"
)

const defaultPollInterval = 3 * time.Second

// PaymentOrchestrator 驱动订单从创建到结算。下单拿到支付链接后
// 由外壳打开浏览器，这里轮询后端直到网关确认支付，再触发补单升级。
type PaymentOrchestrator struct {
	auth         *AuthClient
	pollInterval time.Duration
}

func NewPaymentOrchestrator(auth *AuthClient) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		auth:         auth,
		pollInterval: defaultPollInterval,
	}
}

// CreateOrder 创建支付订单。金额由服务端按套餐目录决定，
// 返回的 payment_url 交给外壳打开。
func (p *PaymentOrchestrator) CreateOrder(ctx context.Context, planType, payType string) (*OrderCreated, error) {
	ctx, cancel := p.auth.shortCtx(ctx)
	defer cancel()

	session := p.auth.Session()
	data, err := p.auth.AuthenticatedRequest(ctx, http.MethodPost, "/api/payment-create-order", map[string]string{
		"user_id":   session.UserID,
		"plan_type": planType,
		"pay_type":  payType,
	})
	if err != nil {
		return nil, err
	}

	var resp OrderCreated
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, bugError("下单响应格式异常")
	}
	if !resp.Success {
		return nil, &Error{Kind: KindGatewayRejected, Message: resp.ErrorMsg}
	}
	return &resp, nil
}

// QueryOrder 查询订单状态，后端代理网关
func (p *PaymentOrchestrator) QueryOrder(ctx context.Context, outTradeNo string) (*OrderInfo, error) {
	ctx, cancel := p.auth.shortCtx(ctx)
	defer cancel()

	data, err := p.auth.AuthenticatedRequest(ctx, http.MethodPost, "/api/payment-query", map[string]string{
		"out_trade_no": outTradeNo,
	})
	if err != nil {
		return nil, err
	}

	var resp orderQueryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, bugError("订单查询响应格式异常")
	}
	if !resp.Success || resp.Order == nil {
		return nil, &Error{Kind: KindGatewayRejected, Message: resp.ErrorMsg}
	}
	return resp.Order, nil
}

// ManualUpgrade 补单。后端带商户密钥重查网关，已支付则幂等升级。
// 可以重复调用，后端按 out_trade_no 去重。
func (p *PaymentOrchestrator) ManualUpgrade(ctx context.Context, outTradeNo, planType string) (*UpgradeResult, error) {
	session := p.auth.Session()
	data, err := p.auth.AuthenticatedRequest(ctx, http.MethodPost, "/api/payment-manual-upgrade", map[string]string{
		"out_trade_no": outTradeNo,
		"user_id":      session.UserID,
		"plan_type":    planType,
	})
	if err != nil {
		return nil, err
	}

	var resp UpgradeResult
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, bugError("补单响应格式异常")
	}
	if !resp.Success {
		return nil, &Error{Kind: KindGatewayRejected, Message: resp.ErrorMsg}
	}
	return &resp, nil
}

// CreateStripeCheckout 创建 Stripe 结账会话，返回 checkout_url。
// Stripe 路径没有本地签名，结算结果通过轮询订阅状态观察。
func (p *PaymentOrchestrator) CreateStripeCheckout(ctx context.Context, planType string) (*StripeCheckout, error) {
	session := p.auth.Session()
	data, err := p.auth.AuthenticatedRequest(ctx, http.MethodPost, "/api/stripe-create-checkout", map[string]string{
		"plan_type":  planType,
		"user_id":    session.UserID,
		"user_email": session.Email,
	})
	if err != nil {
		return nil, err
	}

	var resp StripeCheckout
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, bugError("Stripe 响应格式异常")
	}
	if !resp.Success {
		return nil, &Error{Kind: KindGatewayRejected, Message: resp.ErrorMsg}
	}
	return &resp, nil
}

// PollCallbacks 轮询结果回调。OnPaid 在补单成功后触发一次，
// OnFailed 只在会话失效等无法继续的情况触发，普通查询失败会继续轮询。
type PollCallbacks struct {
	OnPaid   func(result *UpgradeResult)
	OnFailed func(err error)
}

// Poller 单个订单的轮询句柄。Cancel 协作式取消，重复调用安全。
type Poller struct {
	cancel   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Cancel 请求停止轮询。循环在下一次检查点退出。
func (p *Poller) Cancel() {
	p.stopOnce.Do(func() {
		close(p.cancel)
	})
}

// Done 轮询结束后关闭
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// StartPolling 启动订单轮询。网关报已支付（status == "1"）就停止轮询并补单；
// 其他状态继续轮询；查询出错记日志后继续。
func (p *PaymentOrchestrator) StartPolling(outTradeNo, planType string, callbacks PollCallbacks) *Poller {
	poller := &Poller{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go p.pollLoop(poller, callbacks, func(ctx context.Context) (bool, *UpgradeResult, error) {
		order, err := p.QueryOrder(ctx, outTradeNo)
		if err != nil {
			return false, nil, err
		}
		if order.Status != "1" {
			return false, nil, nil
		}
		result, err := p.ManualUpgrade(ctx, outTradeNo, planType)
		if err != nil {
			return false, nil, err
		}
		return true, result, nil
	})

	return poller
}

// WatchSubscription 轮询订阅状态直到等级升到目标值。
// Stripe 结算没有客户端可见的订单查询，只能靠这个观察升级完成。
func (p *PaymentOrchestrator) WatchSubscription(targetTier string, callbacks PollCallbacks) *Poller {
	poller := &Poller{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go p.pollLoop(poller, callbacks, func(ctx context.Context) (bool, *UpgradeResult, error) {
		status, err := p.auth.GetSubscriptionStatus(ctx)
		if err != nil {
			return false, nil, err
		}
		if status.UserTier != targetTier {
			return false, nil, nil
		}
		return true, &UpgradeResult{
			Success:            true,
			UserTier:           status.UserTier,
			MembershipExpireAt: status.ExpiresAt,
		}, nil
	})

	return poller
}

func (p *PaymentOrchestrator) pollLoop(poller *Poller, callbacks PollCallbacks, check func(context.Context) (bool, *UpgradeResult, error)) {
	defer close(poller.done)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-poller.cancel:
			return
		case <-ticker.C:
			ctx, cancel := p.auth.shortCtx(context.Background())
			settled, result, err := check(ctx)
			cancel()

			if err != nil {
				if errors.Is(err, ErrSessionExpired) {
					if callbacks.OnFailed != nil {
						callbacks.OnFailed(err)
					}
					return
				}
				// 查询失败不终止轮询
				log.Printf("Order poll failed, will retry: %v", err)
				continue
			}

			if settled {
				if callbacks.OnPaid != nil {
					callbacks.OnPaid(result)
				}
				return
			}
		}
	}
}
