package kafka

import (
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/pickme-go/errors"
)

// Offsets is the part of sarama.Client a dataset needs.
type Offsets interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

type offsetManager struct {
	client Offsets
}

// bounds returns the oldest offset of a partition and its high watermark, the offset
// the next produced message will get.
func (m *offsetManager) bounds(topic string, partition int32) (start, end int64, err error) {
	start, err = m.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, errors.WithPrevious(err, fmt.Sprintf(`cannot read startOffset for %s[%d]`, topic, partition))
	}

	end, err = m.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, errors.WithPrevious(err, fmt.Sprintf(`cannot read endOffset for %s[%d]`, topic, partition))
	}

	return start, end, nil
}
