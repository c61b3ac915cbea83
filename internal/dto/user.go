package dto

// CreateUserRequest registers a tenant member.
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	FullName string `json:"fullName" validate:"required,max=160"`
	Role     string `json:"role" validate:"required,oneof=COMPANY_ADMIN TRAINER STUDENT"`
	Password string `json:"password" validate:"required,min=8"`
	Active   *bool  `json:"active"`
}

// UpdateUserRequest changes a member's name, role or availability.
type UpdateUserRequest struct {
	FullName *string `json:"fullName" validate:"omitempty,max=160"`
	Role     *string `json:"role" validate:"omitempty,oneof=COMPANY_ADMIN TRAINER STUDENT"`
	Active   *bool   `json:"active"`
}

// ListUsersQuery filters the member listing.
type ListUsersQuery struct {
	Role      string `form:"role" validate:"omitempty,oneof=COMPANY_ADMIN TRAINER STUDENT"`
	Active    *bool  `form:"active"`
	Search    string `form:"search"`
	Page      int    `form:"page" validate:"omitempty,min=1"`
	PageSize  int    `form:"page_size" validate:"omitempty,min=1,max=100"`
	SortBy    string `form:"sort_by"`
	SortOrder string `form:"sort_order"`
}
