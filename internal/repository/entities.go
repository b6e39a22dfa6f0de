package repository

// AllEntities lists every table the service owns, in dependency order.
func AllEntities() []any {
	return []any{
		&UserEntity{},
		&CountryEntity{},
		&PlanEntity{},
		&TopUpPlanEntity{},
		&CartEntity{},
		&CartItemEntity{},
		&TransactionEntity{},
		&OrderEntity{},
		&EsimEntity{},
		&EsimPlanEntity{},
		&EsimTopUpEntity{},
		&ProviderTokenEntity{},
	}
}
