package domain

// PaymentEventPublisher публикует события платёжного цикла в три логических потока.
// Публикация — at-least-once; ошибка доставки логируется и не должна
// теряться молча.
type PaymentEventPublisher interface {
	// PublishPayment отправляет событие в основной поток.
	PublishPayment(event PaymentEvent) error
	// PublishRetry отправляет событие в поток повторов.
	PublishRetry(event PaymentEvent) error
	// PublishDeadLetter отправляет событие в dead-letter поток для ручного разбора.
	PublishDeadLetter(event PaymentEvent) error
}

// ProcessingGateway проводит платёж у внешнего провайдера.
// nil означает успешное проведение; ошибка трактуется как неудачная попытка.
type ProcessingGateway interface {
	Process(event PaymentEvent) error
}
