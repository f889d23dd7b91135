package domain

// Signal bus channels for marketplace events. The WebSocket hub relays these
// to subscribed clients and the notifier filters them for operators.
const (
	ChannelListings = "listings"
	ChannelBids     = "bids"
	ChannelSales    = "sales"
	ChannelCredits  = "credits"
	ChannelStatus   = "status"
)

// StreamKey returns the Redis stream key that mirrors a pub/sub channel.
// Events are published to the channel for live delivery and appended to the
// stream so late subscribers can replay recent history.
func StreamKey(channel string) string {
	return "stream:" + channel
}

// Event names used on the bus, in audit log entries, and as notifier filters.
const (
	EventListed           = "listed"
	EventUnlisted         = "unlisted"
	EventBidAccepted      = "bid_accepted"
	EventBidOutbid        = "outbid"
	EventRefundPaid       = "refund_paid"
	EventRefundCredited   = "refund_credited"
	EventSaleSettled      = "sale_settled"
	EventAssetDelivered   = "asset_delivered"
	EventDeliveryFailed   = "delivery_failed"
	EventEscrowStranded   = "escrow_stranded"
	EventCreditsWithdrawn = "credits_withdrawn"
	EventWithdrawFailed   = "withdraw_failed"
)
