package models

// TrashItem is a trashed file. An entry whose IsDeleted or IsRestored flag is
// set removes the item from the local trash set.
type TrashItem struct {
	File       MediaFile `json:"file"`
	IsDeleted  bool      `json:"isDeleted"`
	IsRestored bool      `json:"isRestored"`
	UpdatedAt  int64     `json:"updatedAt"`
	DeleteBy   int64     `json:"deleteBy"`
}
