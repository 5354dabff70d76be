package executors

// RegisterBuiltins registers every built-in executor in the given registry.
func RegisterBuiltins(reg *Registry, sink NotificationSink, entities EntityService, gen Generator, webhookCfg WebhookConfig) error {
	all := []Executor{
		NewSendEmailExecutor(sink),
		NewSendNotificationExecutor(sink),
		NewSendSlackExecutor(sink),
		NewCreateSlackChannelExecutor(sink),
		NewCreateTaskExecutor(entities),
		NewUpdateTaskExecutor(entities),
		NewCreateProjectExecutor(entities),
		NewWebhookCallExecutor(webhookCfg),
		NewAIGenerateExecutor(gen),
	}

	for _, e := range all {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}
