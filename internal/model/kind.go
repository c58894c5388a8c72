package model

// Kind 通知类型
type Kind string

const (
	KindRoleChanged       Kind = "role_changed"
	KindPlanApproved      Kind = "plan_approved"
	KindPlanRejected      Kind = "plan_rejected"
	KindDocumentUploaded  Kind = "document_uploaded"
	KindDocumentCommented Kind = "document_commented"
	KindPhotoUploaded     Kind = "photo_uploaded"
	KindCommentMention    Kind = "comment_mention"
	KindReportPublished   Kind = "report_published"
	KindProjectInvite     Kind = "project_invite"
)

var knownKinds = map[Kind]struct{}{
	KindRoleChanged:       {},
	KindPlanApproved:      {},
	KindPlanRejected:      {},
	KindDocumentUploaded:  {},
	KindDocumentCommented: {},
	KindPhotoUploaded:     {},
	KindCommentMention:    {},
	KindReportPublished:   {},
	KindProjectInvite:     {},
}

// Valid reports whether k is a known notification kind.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

func (k Kind) String() string { return string(k) }

// GrandfatheredKinds 仍遵循旧版退订标记的类型
func GrandfatheredKinds() []Kind {
	return []Kind{KindDocumentUploaded, KindPhotoUploaded}
}
