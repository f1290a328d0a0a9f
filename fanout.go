package orderpush

import "pkt.systems/orderpush/internal/broadcast"

// publisherFanout forwards every status change to each publisher in order.
type publisherFanout struct {
	publishers []broadcast.Publisher
}

func (f publisherFanout) PublishOrderStatusChange(orderID, userID, status string) {
	for _, p := range f.publishers {
		if p == nil {
			continue
		}
		p.PublishOrderStatusChange(orderID, userID, status)
	}
}

func newPublisher(primary broadcast.Publisher, extra []broadcast.Publisher) broadcast.Publisher {
	if len(extra) == 0 {
		return primary
	}
	publishers := make([]broadcast.Publisher, 0, len(extra)+1)
	publishers = append(publishers, primary)
	for _, p := range extra {
		if p != nil && p != primary {
			publishers = append(publishers, p)
		}
	}
	if len(publishers) == 1 {
		return primary
	}
	return publisherFanout{publishers: publishers}
}
