package entity

// RemoteState состояние запроса в облачном сервисе
type RemoteState string

const (
	RemotePending    RemoteState = "pending"
	RemoteProcessing RemoteState = "processing"
	RemoteComplete   RemoteState = "complete"
	RemoteFailed     RemoteState = "failed"
)

// RemoteStatus ответ облачного сервиса о ходе генерации
type RemoteStatus struct {
	Status   RemoteState
	Progress float64
	Outputs  map[string]string // glb, fbx, usdz, thumbnail -> URL
	Error    string
}

// Done true для complete и failed
func (s *RemoteStatus) Done() bool {
	return s.Status == RemoteComplete || s.Status == RemoteFailed
}
