package kafka

import (
	"strconv"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

// TopicOrderEvents: топик по умолчанию для событий сессий редактирования.
const TopicOrderEvents = "ordereditor.order.events"

// Kafka headers событий заказа
const (
	HeaderEventType    = "x-event-type"
	HeaderOrderVersion = "x-order-version"
	HeaderSchema       = "x-schema"
)

// schemaVersion меняется при несовместимом изменении формата domain.OrderEvent.
const schemaVersion = "order-event.v1"

// eventHeaders строит заголовки, по которым потребители фильтруют события без разбора тела.
func eventHeaders(event domain.OrderEvent) []sarama.RecordHeader {
	return []sarama.RecordHeader{
		{Key: []byte(HeaderEventType), Value: []byte(event.Type)},
		{Key: []byte(HeaderOrderVersion), Value: []byte(strconv.FormatInt(event.Version, 10))},
		{Key: []byte(HeaderSchema), Value: []byte(schemaVersion)},
	}
}
